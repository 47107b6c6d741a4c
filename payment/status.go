// Package payment implements the per-payment serialized state machine:
// the fixed status graph, the per-payment lock arena, and the manager
// that validates and commits transitions with cache/store coherence.
package payment

// Status is a payment's position in the fixed lifecycle graph. Wire
// names match spec.md §6 exactly.
type Status string

const (
	StatusInit             Status = "INIT"
	StatusNew              Status = "NEW"
	StatusFormShowed       Status = "FORM_SHOWED"
	StatusAuthorized       Status = "AUTHORIZED"
	StatusConfirmed        Status = "CONFIRMED"
	StatusCancelled        Status = "CANCELLED"
	StatusRejected         Status = "REJECTED"
	StatusRefunded         Status = "REFUNDED"
	StatusPartialRefunded  Status = "PARTIAL_REFUNDED"
	StatusExpired          Status = "EXPIRED"
)

// transitions is the fixed status graph of spec.md §4.2.
var transitions = map[Status]map[Status]bool{
	StatusInit:            {StatusNew: true, StatusCancelled: true, StatusExpired: true},
	StatusNew:             {StatusFormShowed: true, StatusCancelled: true, StatusExpired: true},
	StatusFormShowed:      {StatusAuthorized: true, StatusRejected: true, StatusCancelled: true, StatusExpired: true},
	StatusAuthorized:      {StatusConfirmed: true, StatusCancelled: true, StatusExpired: true},
	StatusConfirmed:       {StatusRefunded: true, StatusPartialRefunded: true},
	StatusPartialRefunded: {StatusRefunded: true},
	StatusCancelled:       {},
	StatusRejected:        {},
	StatusRefunded:        {},
	StatusExpired:         {},
}

// IsValidTransition reports whether to is a permitted successor of from.
func IsValidTransition(from, to Status) bool {
	successors, ok := transitions[from]
	if !ok {
		return false
	}
	return successors[to]
}

// IsTerminal reports whether status has no permitted successors.
func IsTerminal(status Status) bool {
	successors, ok := transitions[status]
	return ok && len(successors) == 0
}
