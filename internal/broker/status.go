package broker

// Status is the lifecycle state of an order as reported by the broker.
type Status string

const (
	PendingSubmit Status = "PendingSubmit"
	PendingCancel Status = "PendingCancel"
	PreSubmitted  Status = "PreSubmitted"
	Submitted     Status = "Submitted"
	ApiPending    Status = "ApiPending"
	ApiCancelled  Status = "ApiCancelled"
	Cancelled     Status = "Cancelled"
	Filled        Status = "Filled"
	Inactive      Status = "Inactive"
)

// doneStates is the terminal partition: once an order reaches one of these it
// never transitions again. Inactive is not terminal; an inactive order still
// accepts a direct cancel.
var doneStates = map[Status]struct{}{
	Filled:       {},
	Cancelled:    {},
	ApiCancelled: {},
}

// IsDone reports whether s is terminal.
func (s Status) IsDone() bool {
	_, ok := doneStates[s]
	return ok
}

// IsActive reports whether s is one of the live, working states.
func (s Status) IsActive() bool {
	switch s {
	case PendingSubmit, ApiPending, PreSubmitted, Submitted:
		return true
	}
	return false
}
