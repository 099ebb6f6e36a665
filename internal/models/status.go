package models

// Status is the order lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusExecuted   Status = "executed"
	StatusEvaluation Status = "evaluation"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// AllowedTransitions encodes the order state flow. Deletion paths (dispatch
// timeout, customer cancel of an active order) remove the record outright and
// are not transitions.
var AllowedTransitions = map[Status][]Status{
	StatusActive:     {StatusExecuted, StatusCanceled},
	StatusExecuted:   {StatusEvaluation},
	StatusEvaluation: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActiveAssignment reports whether an order in this status counts against
// the one-active-order-per-driver invariant.
func (s Status) ActiveAssignment() bool {
	return s == StatusExecuted || s == StatusEvaluation
}
