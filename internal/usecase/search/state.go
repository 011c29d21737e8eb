package search

import "fmt"

// State is the position of a Handler in the search pipeline.
type State int

// Handler states. Send states do entry work in NextRequest; await states
// are left only when their pending counter reaches zero.
const (
	StateStart State = iota
	StateSendTopRegion
	StateAwaitTopRegion
	StateSendOverview
	StateAwaitOverview
	StateSendSearch
	StateAwaitSearch
	StateSendExpandItem
	StateAwaitExpandItem
	StateCoordinates
	StateOverviewExpand
	StateOverviewExpandThenOverviewCheck
	StateUnexpandOverview
	StateAwaitUnexpandOverview
	StateAlmostDone2
	StateDone
)

var stateNames = [...]string{
	StateStart:                           "START",
	StateSendTopRegion:                   "SEND_TOP_REGION",
	StateAwaitTopRegion:                  "AWAIT_TOP_REGION",
	StateSendOverview:                    "SEND_OVERVIEW",
	StateAwaitOverview:                   "AWAIT_OVERVIEW",
	StateSendSearch:                      "SEND_SEARCH",
	StateAwaitSearch:                     "AWAIT_SEARCH",
	StateSendExpandItem:                  "SEND_EXPAND_ITEM",
	StateAwaitExpandItem:                 "AWAIT_EXPAND_ITEM",
	StateCoordinates:                     "COORDINATES",
	StateOverviewExpand:                  "OVERVIEWEXPAND",
	StateOverviewExpandThenOverviewCheck: "OVERVIEWEXPAND_THEN_OVERVIEW_CHECK",
	StateUnexpandOverview:                "UNEXPAND_OVERVIEW",
	StateAwaitUnexpandOverview:           "AWAIT_UNEXPAND_OVERVIEW",
	StateAlmostDone2:                     "ALMOST_DONE_2",
	StateDone:                            "DONE",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// States lists every state in pipeline order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range out {
		out[i] = State(i)
	}
	return out
}
