// Package scheduler executes task graphs under dependency, priority,
// deadline, and concurrency constraints.
//
// Among tasks whose dependencies have all completed, the highest priority
// dispatches first, ties broken by submission order. At most the configured
// concurrency limit runs simultaneously. A task overrunning its deadline is
// failed with a TimeoutError and its transitive dependents are cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"astra/internal/config"
)

// SchedulingError reports a rejected submission: a dependency cycle, an
// unknown dependency, or queue overflow. The whole batch is rejected; the
// scheduler state is unchanged.
type SchedulingError struct {
	Reason string
}

func (e *SchedulingError) Error() string {
	return "scheduling: " + e.Reason
}

// TimeoutError marks a task that exceeded its deadline.
type TimeoutError struct {
	TaskID   string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded deadline %v", e.TaskID, e.Deadline)
}

// ErrCancelled is recorded on tasks cancelled before or during execution.
var ErrCancelled = errors.New("task cancelled")

// Scheduler runs task graphs on a bounded worker pool.
type Scheduler struct {
	cfg    config.SchedulerConfig
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	nextSeq int64

	sem    *semaphore.Weighted
	kickCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	// Metrics
	totalSubmitted int64
	totalCompleted int64
	totalFailed    int64
	totalCancelled int64
	totalTimedOut  int64
}

// New creates a scheduler and starts its dispatch loop.
func New(cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	s := &Scheduler{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "scheduler")),
		tasks:  make(map[string]*task),
		sem:    semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		kickCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// Stop shuts down the dispatch loop. Running tasks keep their goroutines
// until they observe their cancelled contexts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.state == StateRunning && t.cancel != nil {
			t.cancel()
		}
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// Submit validates and enqueues a batch of tasks, returning their IDs in
// batch order. A cycle, unknown dependency, or queue overflow rejects the
// entire batch with a SchedulingError and leaves the scheduler unchanged.
func (s *Scheduler) Submit(specs []TaskSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Assign IDs up front so intra-batch dependencies can be resolved.
	ids := make([]string, len(specs))
	inBatch := make(map[string]int, len(specs))
	for i := range specs {
		if specs[i].ID == "" {
			specs[i].ID = uuid.NewString()
		}
		if _, dup := inBatch[specs[i].ID]; dup {
			return nil, &SchedulingError{Reason: "duplicate task id " + specs[i].ID}
		}
		if _, exists := s.tasks[specs[i].ID]; exists {
			return nil, &SchedulingError{Reason: "task id already submitted: " + specs[i].ID}
		}
		if specs[i].Run == nil {
			return nil, &SchedulingError{Reason: "task " + specs[i].ID + " has no run function"}
		}
		inBatch[specs[i].ID] = i
		ids[i] = specs[i].ID
	}

	active := 0
	for _, t := range s.tasks {
		if !t.state.Terminal() {
			active++
		}
	}
	if s.cfg.QueueCapacity > 0 && active+len(specs) > s.cfg.QueueCapacity {
		return nil, &SchedulingError{Reason: fmt.Sprintf("queue overflow: %d active + %d submitted > capacity %d",
			active, len(specs), s.cfg.QueueCapacity)}
	}

	// Dependencies must resolve within the batch or to known tasks, and
	// the combined graph must stay acyclic.
	for i := range specs {
		for _, dep := range specs[i].DependsOn {
			if _, ok := inBatch[dep]; ok {
				continue
			}
			if _, ok := s.tasks[dep]; !ok {
				return nil, &SchedulingError{Reason: fmt.Sprintf("task %s depends on unknown task %s", specs[i].ID, dep)}
			}
		}
	}
	if cyclic := findCycle(specs, s.tasks); cyclic != "" {
		return nil, &SchedulingError{Reason: "dependency cycle through task " + cyclic}
	}

	// Validation passed; the batch is accepted atomically.
	for i := range specs {
		s.nextSeq++
		t := &task{
			spec:      specs[i],
			state:     StatePending,
			submitSeq: s.nextSeq,
			done:      make(chan struct{}),
		}
		s.tasks[t.spec.ID] = t
		s.totalSubmitted++
	}

	// Resolve initial states: tasks whose dependencies are already
	// completed become ready; tasks depending on dead tasks are
	// cancelled immediately.
	for _, id := range ids {
		s.resolveStateLocked(s.tasks[id])
	}

	s.logger.Debug("batch submitted", zap.Int("tasks", len(specs)))
	s.kick()
	return ids, nil
}

// resolveStateLocked moves a pending task to ready or cancelled based on
// its dependencies' states.
func (s *Scheduler) resolveStateLocked(t *task) {
	if t.state != StatePending {
		return
	}
	ready := true
	for _, dep := range t.spec.DependsOn {
		d, ok := s.tasks[dep]
		if !ok {
			continue
		}
		switch d.state {
		case StateFailed, StateCancelled:
			s.terminateLocked(t, StateCancelled, "", fmt.Errorf("dependency %s %s: %w", dep, d.state, ErrCancelled))
			return
		case StateCompleted:
			// satisfied
		default:
			ready = false
		}
	}
	if ready {
		t.state = StateReady
	}
}

// Cancel marks the task and its transitive dependents cancelled. A running
// task is signaled to stop and acknowledges cancellation when its current
// unit of work returns.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return &SchedulingError{Reason: "cancel: unknown task " + id}
	}
	s.cancelLocked(t)
	s.kick()
	return nil
}

func (s *Scheduler) cancelLocked(t *task) {
	switch t.state {
	case StateCompleted, StateFailed, StateCancelled:
		return
	case StateRunning:
		// Signal; runTask marks the terminal state on return.
		if t.cancel != nil {
			t.cancel()
		}
	default:
		s.terminateLocked(t, StateCancelled, "", ErrCancelled)
	}
}

// cascadeLocked cancels every non-terminal task depending, transitively,
// on the given dead task.
func (s *Scheduler) cascadeLocked(deadID string) {
	for _, t := range s.tasks {
		if t.state.Terminal() || t.state == StateRunning {
			continue
		}
		for _, dep := range t.spec.DependsOn {
			if dep == deadID {
				s.terminateLocked(t, StateCancelled, "", fmt.Errorf("dependency %s failed or cancelled: %w", deadID, ErrCancelled))
				break
			}
		}
	}
}

// terminateLocked finalizes a task. Cascade and promotion both key off the
// terminal state, so every path funnels through here.
func (s *Scheduler) terminateLocked(t *task, state TaskState, outcome string, err error) {
	if t.state.Terminal() {
		return
	}
	t.state = state
	t.outcome = outcome
	t.err = err
	close(t.done)

	switch state {
	case StateCompleted:
		s.totalCompleted++
		s.promoteDependentsLocked(t.spec.ID)
	case StateFailed:
		s.totalFailed++
		var te *TimeoutError
		if errors.As(err, &te) {
			s.totalTimedOut++
		}
		s.cascadeLocked(t.spec.ID)
	case StateCancelled:
		s.totalCancelled++
		s.cascadeLocked(t.spec.ID)
	}
}

// promoteDependentsLocked re-resolves pending tasks after a completion.
func (s *Scheduler) promoteDependentsLocked(completedID string) {
	for _, t := range s.tasks {
		if t.state != StatePending {
			continue
		}
		for _, dep := range t.spec.DependsOn {
			if dep == completedID {
				s.resolveStateLocked(t)
				break
			}
		}
	}
}

func (s *Scheduler) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// dispatchLoop moves ready tasks onto workers whenever capacity allows.
func (s *Scheduler) dispatchLoop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.kickCh:
		}
		for {
			if !s.sem.TryAcquire(1) {
				break
			}
			t := s.claimNextReady()
			if t == nil {
				s.sem.Release(1)
				break
			}
			go s.runTask(t)
		}
	}
}

// claimNextReady picks the highest-priority ready task, FIFO on ties, and
// marks it running.
func (s *Scheduler) claimNextReady() *task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *task
	for _, t := range s.tasks {
		if t.state != StateReady {
			continue
		}
		if best == nil ||
			t.spec.Priority > best.spec.Priority ||
			(t.spec.Priority == best.spec.Priority && t.submitSeq < best.submitSeq) {
			best = t
		}
	}
	if best == nil {
		return nil
	}

	best.state = StateRunning
	best.runCtx, best.cancel = context.WithCancel(context.Background())
	return best
}

// runTask executes one task on a worker slot, enforcing its deadline.
func (s *Scheduler) runTask(t *task) {
	deadline := t.spec.Deadline
	if deadline == 0 {
		deadline = s.cfg.DefaultDeadline
	}

	s.mu.Lock()
	runCtx := t.runCtx
	runCancel := t.cancel
	s.mu.Unlock()

	timedOut := make(chan struct{})
	if deadline > 0 {
		timer := time.AfterFunc(deadline, func() {
			close(timedOut)
			runCancel()
		})
		defer timer.Stop()
	}

	outcome, err := t.spec.Run(runCtx)

	s.sem.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.kick()

	select {
	case <-timedOut:
		s.terminateLocked(t, StateFailed, outcome, &TimeoutError{TaskID: t.spec.ID, Deadline: deadline})
		return
	default:
	}
	if runCtx.Err() != nil && err == nil {
		// Cancelled mid-flight but the task unit finished anyway.
		s.terminateLocked(t, StateCancelled, outcome, ErrCancelled)
		return
	}
	switch {
	case err == nil:
		s.terminateLocked(t, StateCompleted, outcome, nil)
	case errors.Is(err, context.Canceled):
		s.terminateLocked(t, StateCancelled, outcome, ErrCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		s.terminateLocked(t, StateFailed, outcome, &TimeoutError{TaskID: t.spec.ID, Deadline: deadline})
	default:
		s.terminateLocked(t, StateFailed, outcome, err)
	}
}

// AwaitBatch blocks until every listed task is terminal or ctx expires.
// It returns the final snapshots in the same order as ids. On ctx expiry
// the still-unfinished tasks are cancelled before returning.
func (s *Scheduler) AwaitBatch(ctx context.Context, ids []string) ([]TaskInfo, error) {
	for _, id := range ids {
		s.mu.Lock()
		t, ok := s.tasks[id]
		s.mu.Unlock()
		if !ok {
			return nil, &SchedulingError{Reason: "await: unknown task " + id}
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			// Budget exhausted: cancel everything unfinished in this
			// batch so the tick can close out.
			s.mu.Lock()
			for _, cid := range ids {
				if ct, ok := s.tasks[cid]; ok {
					s.cancelLocked(ct)
				}
			}
			s.mu.Unlock()
			return s.snapshots(ids), ctx.Err()
		}
	}
	return s.snapshots(ids), nil
}

func (s *Scheduler) snapshots(ids []string) []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.info())
		}
	}
	return out
}

// Task returns a snapshot of one task.
func (s *Scheduler) Task(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Metrics is an observable summary of scheduler activity.
type Metrics struct {
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
	TimedOut  int64
	Active    int
}

func (m Metrics) String() string {
	return fmt.Sprintf("submitted=%d completed=%d failed=%d cancelled=%d timed_out=%d active=%d",
		m.Submitted, m.Completed, m.Failed, m.Cancelled, m.TimedOut, m.Active)
}

// Metrics returns current counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, t := range s.tasks {
		if !t.state.Terminal() {
			active++
		}
	}
	return Metrics{
		Submitted: s.totalSubmitted,
		Completed: s.totalCompleted,
		Failed:    s.totalFailed,
		Cancelled: s.totalCancelled,
		TimedOut:  s.totalTimedOut,
		Active:    active,
	}
}

// Prune drops terminal tasks from the bookkeeping map, keeping memory
// bounded across long runs. Safe to call between ticks.
func (s *Scheduler) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.state.Terminal() {
			delete(s.tasks, id)
		}
	}
}

// findCycle runs a depth-first search over the union of the incoming batch
// and the existing non-terminal graph. It returns an ID on the first cycle
// found, or "" when the graph is acyclic.
func findCycle(specs []TaskSpec, existing map[string]*task) string {
	edges := make(map[string][]string, len(specs)+len(existing))
	for _, sp := range specs {
		edges[sp.ID] = sp.DependsOn
	}
	for id, t := range existing {
		if !t.state.Terminal() {
			edges[id] = t.spec.DependsOn
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(edges))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, dep := range edges[id] {
			switch color[dep] {
			case grey:
				return dep
			case white:
				if _, ok := edges[dep]; !ok {
					continue // terminal or unknown: cannot extend a cycle
				}
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for id := range edges {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}
