package opt

import (
	"errors"
	"fmt"
)

var (
	// ErrFatalInfeasible means no assignment of all tasks respects capacity.
	ErrFatalInfeasible = errors.New("opt: no feasible initial assignment")
	// ErrOperatorInfeasible means a neighbor candidate violates precedence or capacity.
	ErrOperatorInfeasible = errors.New("opt: infeasible neighbor")
	// ErrNoFeasibleInsertion means a task cannot be inserted anywhere.
	ErrNoFeasibleInsertion = errors.New("opt: no feasible insertion")
)

// InfeasibleTaskError names the task that no carrier can carry.
type InfeasibleTaskError struct {
	TaskID      string
	Weight      float64
	MaxCapacity float64
}

func (e *InfeasibleTaskError) Error() string {
	return fmt.Sprintf("task %q weighs %g but the largest carrier capacity is %g", e.TaskID, e.Weight, e.MaxCapacity)
}

func (e *InfeasibleTaskError) Unwrap() error { return ErrFatalInfeasible }

// Operator rejections are preallocated; they are produced for most sampled
// neighbors.
var (
	errPrecedence  = fmt.Errorf("%w: precedence violated", ErrOperatorInfeasible)
	errCapacity    = fmt.Errorf("%w: capacity exceeded", ErrOperatorInfeasible)
	errPosition    = fmt.Errorf("%w: position out of range", ErrOperatorInfeasible)
	errSameCarrier = fmt.Errorf("%w: source and destination carrier are the same", ErrOperatorInfeasible)
	errCarrier     = fmt.Errorf("%w: unknown carrier", ErrOperatorInfeasible)
)
