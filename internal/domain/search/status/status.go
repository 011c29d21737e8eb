package status

// Code is the terminal outcome of a search.
type Code string

// Status codes.
const (
	OK    Code = "ok"
	NotOK Code = "not_ok"
	// Timeout is reported when a shard reply did not arrive in time.
	Timeout Code = "timeout"
	// OutsideAllowedArea is reported when access filtering removed every shard.
	OutsideAllowedArea Code = "outside_allowed_area"
	NotFound           Code = "not_found"
)

// IsValid checks if the code is one of the supported values.
func (c Code) IsValid() bool {
	return c == OK || c == NotOK || c == Timeout || c == OutsideAllowedArea || c == NotFound
}

// IsOK reports whether c is OK.
func (c Code) IsOK() bool { return c == OK }
