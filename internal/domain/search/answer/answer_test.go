package answer

import (
	"testing"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
)

func TestEmpty(t *testing.T) {
	a := Empty()
	if a.Status() != status.OK {
		t.Errorf("Status() = %q, want ok", a.Status())
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d", a.Len())
	}
}

func TestWithStatus_KeepsMatches(t *testing.T) {
	ms := []*match.Match{match.New(match.ID{Shard: 1, Item: 1}, "Drottninggatan")}
	a := New(status.OK, ms, nil)
	b := a.WithStatus(status.Timeout)

	if b.Status() != status.Timeout {
		t.Errorf("Status() = %q", b.Status())
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d", b.Len())
	}
	if a.Status() != status.OK {
		t.Error("original answer changed")
	}
}
