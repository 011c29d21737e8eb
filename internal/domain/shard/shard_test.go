package shard

import "testing"

func TestID_Kinds(t *testing.T) {
	tests := []struct {
		id        ID
		overview  bool
		underview bool
	}{
		{0x00000001, false, true},
		{0x80000001, true, false},
		{FirstOverview, true, false},
		{Unknown, false, false},
	}
	for _, tc := range tests {
		if got := tc.id.IsOverview(); got != tc.overview {
			t.Errorf("%s.IsOverview() = %v, want %v", tc.id, got, tc.overview)
		}
		if got := tc.id.IsUnderview(); got != tc.underview {
			t.Errorf("%s.IsUnderview() = %v, want %v", tc.id, got, tc.underview)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{"12", 12, false},
		{"0x80000002", 0x80000002, false},
		{" 0X1f ", 0x1f, false},
		{"nope", Unknown, true},
		{"0x1ffffffff", Unknown, true},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("Parse(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestID_String(t *testing.T) {
	if got := ID(0x80000002).String(); got != "0x80000002" {
		t.Errorf("got %q", got)
	}
	if got := Unknown.String(); got != "unknown" {
		t.Errorf("got %q", got)
	}
}

func TestTarget_IsValid(t *testing.T) {
	if !TargetSearch.IsValid() || !TargetMap.IsValid() {
		t.Fatal("expected known targets to be valid")
	}
	if Target("tile").IsValid() {
		t.Fatal("unexpected valid target")
	}
}
