package transport

import "fmt"

type NegotiationState int

const (
	NegotiationStateOpen NegotiationState = iota
	// a description operation is in flight
	NegotiationStateUpdating
	NegotiationStateClosed
)

func (n NegotiationState) String() string {
	switch n {
	case NegotiationStateOpen:
		return "OPEN"
	case NegotiationStateUpdating:
		return "UPDATING"
	case NegotiationStateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("%d", int(n))
	}
}

// NegotiationTransitions is the adjacency map of the negotiation state
// machine. CLOSED is terminal.
var NegotiationTransitions = map[NegotiationState][]NegotiationState{
	NegotiationStateOpen:     {NegotiationStateUpdating, NegotiationStateClosed},
	NegotiationStateUpdating: {NegotiationStateOpen, NegotiationStateClosed},
	NegotiationStateClosed:   {},
}
