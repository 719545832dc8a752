// Package planner turns goals into ordered task sequences.
//
// A plan is found by backward chaining from the goal's target predicate
// over the registered action catalog, under a bounded node budget. Higher
// priority goals get a more exhaustive search strategy.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"astra/internal/config"
	"astra/internal/scheduler"
)

// PlanningError reports an unplannable goal: no action chain reaches the
// target within the search budget, or execution exhausted its replans.
type PlanningError struct {
	Goal   string
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning %q: %s", e.Goal, e.Reason)
}

// Goal is a desired end state, expressed as a predicate the world must
// satisfy.
type Goal struct {
	ID       string
	Target   string
	Priority int
	Deadline time.Duration
}

// Action is one registered capability: it makes its effects true once its
// preconditions hold.
type Action struct {
	Name          string
	Module        string
	Preconditions []string
	Effects       []string
	Cost          float64
	// Run performs the step when the plan executes. Optional; a nil Run
	// records the action name as its outcome.
	Run scheduler.TaskFunc
}

func (a Action) achieves(pred string) bool {
	for _, e := range a.Effects {
		if e == pred {
			return true
		}
	}
	return false
}

// Plan is an ordered sequence of actions satisfying one goal.
type Plan struct {
	ID    string
	Goal  Goal
	Steps []Action
	Cost  float64
}

// WorldState is the set of predicates currently true.
type WorldState map[string]bool

// StateFunc supplies the current world state at planning time.
type StateFunc func() WorldState

// TaskSubmitter is the slice of the scheduler the planner drives.
type TaskSubmitter interface {
	Submit(specs []scheduler.TaskSpec) ([]string, error)
	AwaitBatch(ctx context.Context, ids []string) ([]scheduler.TaskInfo, error)
}

// Planner searches the action catalog for goal-satisfying plans and runs
// them through the scheduler.
type Planner struct {
	cfg     config.PlannerConfig
	actions []Action
	stateFn StateFunc
	tasks   TaskSubmitter
	logger  *zap.Logger
}

// New creates a planner over the given action catalog. stateFn may be nil,
// meaning an empty world.
func New(cfg config.PlannerConfig, actions []Action, stateFn StateFunc, tasks TaskSubmitter, logger *zap.Logger) *Planner {
	if cfg.SearchBudgetNodes <= 0 {
		cfg.SearchBudgetNodes = 512
	}
	if stateFn == nil {
		stateFn = func() WorldState { return WorldState{} }
	}
	return &Planner{
		cfg:     cfg,
		actions: actions,
		stateFn: stateFn,
		tasks:   tasks,
		logger:  logger.With(zap.String("component", "planner")),
	}
}

// Register adds an action to the catalog.
func (p *Planner) Register(a Action) {
	p.actions = append(p.actions, a)
}

// CreatePlan backward-chains from the goal's target predicate over the
// action catalog. The goal's priority selects the search strategy: high
// priority goals explore every viable chain for the cheapest plan, medium
// ones take the first chain found in cost order, low ones only plan a
// single reactive step.
func (p *Planner) CreatePlan(goal Goal) (Plan, error) {
	if goal.Target == "" {
		return Plan{}, &PlanningError{Goal: goal.ID, Reason: "empty target predicate"}
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}

	state := p.stateFn()
	search := &chainSearch{
		actions:    p.actions,
		state:      state,
		budget:     p.cfg.SearchBudgetNodes,
		exhaustive: goal.Priority >= 8,
	}

	var steps []Action
	var ok bool
	if goal.Priority >= 4 {
		steps, ok = search.chain(goal.Target, nil)
	} else {
		steps, ok = search.reactive(goal.Target)
	}
	if !ok {
		if search.budget <= 0 {
			return Plan{}, &PlanningError{Goal: goal.Target, Reason: "search budget exhausted"}
		}
		return Plan{}, &PlanningError{Goal: goal.Target, Reason: "no action chain reaches the target"}
	}

	plan := Plan{ID: uuid.NewString(), Goal: goal, Steps: steps, Cost: totalCost(steps)}
	p.logger.Debug("plan created",
		zap.String("goal", goal.Target),
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("cost", plan.Cost))
	return plan, nil
}

// EvaluatePlans picks the cheapest plan, ties broken by fewest steps.
func (p *Planner) EvaluatePlans(plans []Plan) (Plan, error) {
	if len(plans) == 0 {
		return Plan{}, &PlanningError{Reason: "no candidate plans"}
	}
	best := plans[0]
	for _, pl := range plans[1:] {
		if pl.Cost < best.Cost || (pl.Cost == best.Cost && len(pl.Steps) < len(best.Steps)) {
			best = pl
		}
	}
	return best, nil
}

// ExecutePlan submits the plan's steps to the scheduler, each depending on
// its predecessor, and waits for the batch. On a failed step it replans
// once from the current world state; a second failure surfaces a
// PlanningError wrapping the step's error.
func (p *Planner) ExecutePlan(ctx context.Context, plan Plan) ([]scheduler.TaskInfo, error) {
	return p.executePlan(ctx, plan, p.cfg.MaxReplans)
}

func (p *Planner) executePlan(ctx context.Context, plan Plan, replansLeft int) ([]scheduler.TaskInfo, error) {
	if p.tasks == nil {
		return nil, &PlanningError{Goal: plan.Goal.Target, Reason: "no scheduler attached"}
	}

	specs := make([]scheduler.TaskSpec, len(plan.Steps))
	var prev string
	for i, step := range plan.Steps {
		id := fmt.Sprintf("%s-step%d", plan.ID, i)
		run := step.Run
		if run == nil {
			name := step.Name
			run = func(ctx context.Context) (string, error) { return name, nil }
		}
		specs[i] = scheduler.TaskSpec{
			ID:       id,
			Module:   step.Module,
			Priority: plan.Goal.Priority,
			Deadline: plan.Goal.Deadline,
			Run:      run,
		}
		if prev != "" {
			specs[i].DependsOn = []string{prev}
		}
		prev = id
	}

	ids, err := p.tasks.Submit(specs)
	if err != nil {
		return nil, fmt.Errorf("submit plan %s: %w", plan.ID, err)
	}
	infos, err := p.tasks.AwaitBatch(ctx, ids)
	if err != nil {
		return infos, fmt.Errorf("await plan %s: %w", plan.ID, err)
	}

	failed := firstFailure(infos)
	if failed == nil {
		return infos, nil
	}

	if replansLeft > 0 {
		p.logger.Info("step failed, replanning",
			zap.String("goal", plan.Goal.Target),
			zap.String("step", failed.ID),
			zap.Error(failed.Err))
		replanned, perr := p.CreatePlan(plan.Goal)
		if perr == nil {
			return p.executePlan(ctx, replanned, replansLeft-1)
		}
	}
	return infos, &PlanningError{
		Goal:   plan.Goal.Target,
		Reason: fmt.Sprintf("step %s failed and replans are exhausted: %v", failed.ID, failed.Err),
	}
}

func firstFailure(infos []scheduler.TaskInfo) *scheduler.TaskInfo {
	for i := range infos {
		if infos[i].State == scheduler.StateFailed {
			return &infos[i]
		}
	}
	return nil
}

func totalCost(steps []Action) float64 {
	var c float64
	for _, s := range steps {
		c += s.Cost
	}
	return c
}

// chainSearch backward-chains over the action catalog. Each recursive
// satisfy call consumes one budget node; an exhausted budget fails the
// whole search.
type chainSearch struct {
	actions    []Action
	state      WorldState
	budget     int
	exhaustive bool
}

// chain satisfies pred, returning the ordered steps that make it true.
// stack holds predicates currently being satisfied, to cut cycles.
func (s *chainSearch) chain(pred string, stack []string) ([]Action, bool) {
	if s.state[pred] {
		return nil, true
	}
	if s.budget <= 0 {
		return nil, false
	}
	s.budget--
	for _, open := range stack {
		if open == pred {
			return nil, false
		}
	}
	stack = append(stack, pred)

	candidates := s.candidatesFor(pred)
	var best []Action
	found := false
	for _, a := range candidates {
		steps, ok := s.chainAction(a, stack)
		if !ok {
			continue
		}
		if !s.exhaustive {
			return steps, true
		}
		if !found || totalCost(steps) < totalCost(best) ||
			(totalCost(steps) == totalCost(best) && len(steps) < len(best)) {
			best, found = steps, true
		}
	}
	return best, found
}

// chainAction satisfies every precondition of a, then appends a itself.
func (s *chainSearch) chainAction(a Action, stack []string) ([]Action, bool) {
	var steps []Action
	achieved := make(map[string]bool)
	for _, pre := range a.Preconditions {
		if achieved[pre] {
			continue
		}
		sub, ok := s.chain(pre, stack)
		if !ok {
			return nil, false
		}
		steps = append(steps, sub...)
		for _, st := range sub {
			for _, e := range st.Effects {
				achieved[e] = true
			}
		}
		achieved[pre] = true
	}
	return append(steps, a), true
}

// candidatesFor lists actions achieving pred, cheapest first so the
// non-exhaustive strategies favor low cost.
func (s *chainSearch) candidatesFor(pred string) []Action {
	var out []Action
	for _, a := range s.actions {
		if a.achieves(pred) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// reactive plans a single greedy step: the cheapest action that achieves
// the target with all preconditions already true.
func (s *chainSearch) reactive(pred string) ([]Action, bool) {
	if s.state[pred] {
		return nil, true
	}
	if s.budget <= 0 {
		return nil, false
	}
	s.budget--
	for _, a := range s.candidatesFor(pred) {
		ok := true
		for _, pre := range a.Preconditions {
			if !s.state[pre] {
				ok = false
				break
			}
		}
		if ok {
			return []Action{a}, true
		}
	}
	return nil, false
}
