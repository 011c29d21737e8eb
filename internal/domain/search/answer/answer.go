package answer

import (
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
)

// Answer is the result of one search: a status plus the ordered matches.
// It is replaced wholesale, never patched in place.
type Answer struct {
	status   status.Code
	matches  []*match.Match
	overview []*match.Match
}

// Empty is the answer a search holds before any shard replied.
func Empty() Answer {
	return Answer{status: status.OK}
}

// New creates an answer.
func New(code status.Code, matches, overview []*match.Match) Answer {
	return Answer{status: code, matches: matches, overview: overview}
}

// Failed creates an answer without matches.
func Failed(code status.Code) Answer {
	return Answer{status: code}
}

// Status returns the outcome code.
func (a Answer) Status() status.Code { return a.status }

// Matches returns the ordered matches.
func (a Answer) Matches() []*match.Match { return a.matches }

// OverviewMatches returns the overview matches the search was narrowed to.
func (a Answer) OverviewMatches() []*match.Match { return a.overview }

// Len returns the number of matches.
func (a Answer) Len() int { return len(a.matches) }

// WithStatus returns a copy with the status replaced.
func (a Answer) WithStatus(code status.Code) Answer {
	a.status = code
	return a
}
