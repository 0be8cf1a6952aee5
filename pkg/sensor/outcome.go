package sensor

import "fmt"

// Communication state of the driver
type State uint32

const (
	StateIdle State = iota
	StateRequestSent
	StateAwaitingFirstHalf
	StateAwaitingSecondHalf
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestSent:
		return "request sent"
	case StateAwaitingFirstHalf:
		return "awaiting first half"
	case StateAwaitingSecondHalf:
		return "awaiting second half"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("unknown state %d", uint32(s))
}

type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTimeout
	OutcomeIOError
	OutcomeSequenceMismatch
	// DoComm called while not connected
	OutcomeInactive
	// Disconnect interrupted the cycle
	OutcomeClosed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeIOError:
		return "io error"
	case OutcomeSequenceMismatch:
		return "sequence mismatch"
	case OutcomeInactive:
		return "inactive"
	case OutcomeClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown outcome %d", uint8(k))
}

// Outcome of one request / reply cycle.
// Reading is only set on success, Err is only set on failure.
type Outcome struct {
	Kind    OutcomeKind
	Counter uint8
	Reading *Snapshot
	Err     error
}

func (o Outcome) Ok() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%v (counter %v) : %v", o.Kind, o.Counter, o.Err)
	}
	return fmt.Sprintf("%v (counter %v)", o.Kind, o.Counter)
}
