package action

import (
	"time"
)

// OperationKind identifies a phase of processing an action.
type OperationKind int

const (
	OpNoOperation OperationKind = iota
	OpHashGeneration
	OpMutexAcquisition
	OpTaskExecution
	OpOutputHydration
	OpArchiveCreation
	OpSyncOperation
)

func (k OperationKind) String() string {
	switch k {
	case OpHashGeneration:
		return "hash-generation"
	case OpMutexAcquisition:
		return "mutex-acquisition"
	case OpTaskExecution:
		return "task-execution"
	case OpOutputHydration:
		return "output-hydration"
	case OpArchiveCreation:
		return "archive-creation"
	case OpSyncOperation:
		return "sync-operation"
	default:
		return "no-operation"
	}
}

// Output is the captured result of a process execution.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Operation is a single timed entry in an action's operation log.
type Operation struct {
	Kind       OperationKind
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	// Hash is set on hashing, hydration and archive operations.
	Hash string
	// Meta carries a short detail such as the mutex name or cache tier.
	Meta   string
	Output *Output
	Err    error
}

// Begin starts a running operation of the given kind.
func Begin(kind OperationKind) *Operation {
	return &Operation{Kind: kind, Status: StatusRunning, StartedAt: time.Now()}
}

// Finished creates an operation that started and finished now.
func Finished(kind OperationKind, status Status) *Operation {
	op := Begin(kind)
	op.Finish(status)
	return op
}

// Finish stamps the end time and final status.
func (o *Operation) Finish(status Status) {
	o.Status = status
	o.FinishedAt = time.Now()
}

// Fail finishes the operation as failed, keeping the error.
func (o *Operation) Fail(err error) {
	o.Err = err
	o.Finish(StatusFailed)
}

// Duration is the time between start and finish, or zero while running.
func (o *Operation) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// OperationList is the ordered log of operations for one action.
type OperationList []*Operation

// Last returns the most recent operation of a kind, or nil.
func (l OperationList) Last(kind OperationKind) *Operation {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Kind == kind {
			return l[i]
		}
	}
	return nil
}

// Has reports whether an operation of the kind was recorded.
func (l OperationList) Has(kind OperationKind) bool {
	return l.Last(kind) != nil
}

// Count returns how many operations of the kind were recorded.
func (l OperationList) Count(kind OperationKind) int {
	n := 0
	for _, op := range l {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// FinalStatus derives the action status from its operations: the last
// execution or hydration wins, and an empty log means the action was skipped.
func (l OperationList) FinalStatus() Status {
	for i := len(l) - 1; i >= 0; i-- {
		switch l[i].Kind {
		case OpTaskExecution, OpOutputHydration, OpNoOperation, OpSyncOperation:
			return l[i].Status
		}
	}
	if len(l) > 0 && l[len(l)-1].Status.IsFailure() {
		return l[len(l)-1].Status
	}
	return StatusSkipped
}

// Duration sums the time spent in all operations.
func (l OperationList) Duration() time.Duration {
	var total time.Duration
	for _, op := range l {
		total += op.Duration()
	}
	return total
}
