package scheduler

import (
	"context"
	"fmt"
	"time"
)

// TaskState tracks a task through its lifecycle.
type TaskState int

const (
	// StatePending - submitted, waiting on dependencies
	StatePending TaskState = iota
	// StateReady - all dependencies completed, waiting for a worker slot
	StateReady
	// StateRunning - executing on a worker
	StateRunning
	// StateCompleted - finished successfully (terminal)
	StateCompleted
	// StateFailed - finished with an error or deadline overrun (terminal)
	StateFailed
	// StateCancelled - cancelled before or during execution (terminal)
	StateCancelled
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// TaskFunc is one unit of schedulable work. It must respect ctx and return
// a short outcome description.
type TaskFunc func(ctx context.Context) (string, error)

// TaskSpec describes a task at submission time.
type TaskSpec struct {
	// ID is assigned if empty.
	ID string
	// Module names the owning module, for event attribution.
	Module string
	// Priority: higher dispatches first among ready tasks.
	Priority int
	// DependsOn lists task IDs (within the batch or already submitted)
	// that must complete before this task becomes ready.
	DependsOn []string
	// Deadline bounds execution time once running; 0 uses the scheduler
	// default, negative disables it.
	Deadline time.Duration
	// Run does the work.
	Run TaskFunc
}

// TaskInfo is an observable snapshot of a task.
type TaskInfo struct {
	ID       string
	Module   string
	Priority int
	State    TaskState
	Outcome  string
	Err      error
}

// task is the internal bookkeeping record.
type task struct {
	spec      TaskSpec
	state     TaskState
	submitSeq int64
	outcome   string
	err       error

	// runCtx and cancel are set when the task starts running; cancel
	// signals the TaskFunc to stop.
	runCtx context.Context
	cancel context.CancelFunc
	// done closes when the task reaches a terminal state.
	done chan struct{}
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:       t.spec.ID,
		Module:   t.spec.Module,
		Priority: t.spec.Priority,
		State:    t.state,
		Outcome:  t.outcome,
		Err:      t.err,
	}
}
