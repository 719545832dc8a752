// Package runtime is the tick-driven orchestrator. It parses input into
// intents, routes goal work through the planner and scheduler, queries
// collaborator modules synchronously, and folds every outcome into one
// atomic state transition per tick.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"astra/internal/config"
	"astra/internal/emotion"
	"astra/internal/knowledge"
	"astra/internal/learning"
	"astra/internal/memory"
	"astra/internal/personality"
	"astra/internal/planner"
	"astra/internal/scheduler"
)

// ============================================================================
// TICK PHASES
// ============================================================================

// Phase tracks where the current tick is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseParsing
	PhaseDispatching
	PhaseAwaiting
	PhaseAggregating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseParsing:
		return "parsing"
	case PhaseDispatching:
		return "dispatching"
	case PhaseAwaiting:
		return "awaiting_completion"
	case PhaseAggregating:
		return "aggregating"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// TickReport is the externally observed result of one tick.
type TickReport struct {
	Tick    uint64                  `json:"tick"`
	Reply   string                  `json:"reply"`
	Emotion emotion.State           `json:"emotion_state"`
	Traits  personality.Profile     `json:"personality_traits"`
	Events  []memory.NarrativeEvent `json:"recent_events"`
}

// Stable user-facing messages per error kind. Internal errors are never
// shown verbatim.
const (
	msgParse    = "I could not make sense of that instruction."
	msgExec     = "I do not have that capability yet."
	msgSchedule = "I could not schedule that work."
	msgTimeout  = "That took longer than I allowed, so I stopped it."
	msgPlanning = "I could not find a workable plan for that goal."
)

// idleWait bounds how long Run sleeps between ticks when no input is queued.
const idleWait = 250 * time.Millisecond

// ============================================================================
// CORE
// ============================================================================

// Core owns the affect and trait state and drives everything else. All
// mutation of emotion, personality, and memory happens inside Tick, from a
// single goroutine.
type Core struct {
	cfg    *config.Config
	logger *zap.Logger

	mu      sync.Mutex
	pending []Intent
	wake    chan struct{}
	phase   Phase
	tickSeq uint64

	emotions *emotion.Engine
	persona  *personality.Engine
	store    *memory.Store
	reasoner *knowledge.Reasoner
	plans    *planner.Planner
	sched    *scheduler.Scheduler
	trainer  learning.Trainer
	modules  []Module
}

// Deps are the collaborators the core orchestrates.
type Deps struct {
	Emotions *emotion.Engine
	Persona  *personality.Engine
	Store    *memory.Store
	Reasoner *knowledge.Reasoner
	Planner  *planner.Planner
	Sched    *scheduler.Scheduler
	Trainer  learning.Trainer
}

// New wires a core from explicit dependencies.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Core {
	c := &Core{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "runtime")),
		wake:     make(chan struct{}, 1),
		emotions: deps.Emotions,
		persona:  deps.Persona,
		store:    deps.Store,
		reasoner: deps.Reasoner,
		plans:    deps.Planner,
		sched:    deps.Sched,
		trainer:  deps.Trainer,
	}
	c.modules = []Module{
		&learningModule{trainer: deps.Trainer},
		&knowledgeModule{reasoner: deps.Reasoner},
	}
	return c
}

// Bootstrap constructs the full runtime from configuration: memory store,
// engines, reasoner, scheduler, planner with the built-in goal catalog,
// and the core over them.
func Bootstrap(cfg *config.Config, logger *zap.Logger) (*Core, error) {
	store, err := memory.Open(cfg.Memory.DatabasePath, cfg.Memory.MaxEvents, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	reasoner, err := knowledge.NewReasoner(logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build reasoner: %w", err)
	}
	sched := scheduler.New(cfg.Scheduler, logger)

	deps := Deps{
		Emotions: emotion.NewEngine(cfg.Emotion, logger),
		Persona:  personality.NewEngine(cfg.Personality, logger),
		Store:    store,
		Reasoner: reasoner,
		Sched:    sched,
		Trainer:  learning.NewMemoryTrainer(),
	}
	deps.Planner = planner.New(cfg.Planner, goalCatalog(store, reasoner), nil, sched, logger)
	return New(cfg, deps, logger), nil
}

// goalCatalog is the built-in action chain every goal runs through:
// review recent history, reason over the fact base, draw a conclusion.
func goalCatalog(store *memory.Store, reasoner *knowledge.Reasoner) []planner.Action {
	return []planner.Action{
		{
			Name:    "reflect",
			Module:  "memory",
			Effects: []string{"context_ready"},
			Cost:    1,
			Run: func(ctx context.Context) (string, error) {
				events, err := store.RecentEvents(10)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("reviewed %d recent events", len(events)), nil
			},
		},
		{
			Name:          "reason",
			Module:        "knowledge",
			Preconditions: []string{"context_ready"},
			Effects:       []string{"insight_ready"},
			Cost:          2,
			Run: func(ctx context.Context) (string, error) {
				return fmt.Sprintf("reasoned over %d facts", reasoner.FactCount()), nil
			},
		},
		{
			Name:          "conclude",
			Module:        "personality",
			Preconditions: []string{"insight_ready"},
			Effects:       []string{"goal_achieved"},
			Cost:          1,
			Run: func(ctx context.Context) (string, error) {
				return "conclusion drawn", nil
			},
		},
	}
}

// Close releases the scheduler and the memory store.
func (c *Core) Close() error {
	if c.sched != nil {
		c.sched.Stop()
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Phase reports the current tick phase.
func (c *Core) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Core) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// ============================================================================
// PUBLIC SURFACE
// ============================================================================

// ExecuteProgram parses input into intents and queues them for the next
// tick. It mutates no emotional, trait, or narrative state itself.
func (c *Core) ExecuteProgram(input string) error {
	intents, err := parseIntents(input)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pending = append(c.pending, intents...)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.logger.Debug("program queued", zap.Int("intents", len(intents)))
	return nil
}

// CurrentEmotion returns the affect snapshot.
func (c *Core) CurrentEmotion() emotion.State { return c.emotions.Snapshot() }

// Traits returns the personality snapshot.
func (c *Core) Traits() personality.Profile { return c.persona.Traits() }

// RecentEvents returns up to limit events, most recent first.
func (c *Core) RecentEvents(limit int) ([]memory.NarrativeEvent, error) {
	return c.store.RecentEvents(limit)
}

// QueryMemory substring-searches the narrative log.
func (c *Core) QueryMemory(q string) ([]memory.NarrativeEvent, error) {
	return c.store.QueryMemory(q)
}

// Progress reports accumulated learning.
func (c *Core) Progress() learning.Progress { return c.trainer.Progress() }

// ReasoningChains exposes recorded inference traces.
func (c *Core) ReasoningChains() map[string][]string { return c.reasoner.ReasoningChains() }

// Reasoner exposes the knowledge collaborator, for rule hot-reload wiring.
func (c *Core) Reasoner() *knowledge.Reasoner { return c.reasoner }

// ============================================================================
// TICK LOOP
// ============================================================================

// tickOutcome accumulates what one intent produced.
type tickOutcome struct {
	events  []memory.NarrativeEvent
	reply   string
	valence float64
	units   int
}

// Tick advances the runtime by one atomic step: drain queued intents,
// dispatch, await, commit events, apply affect and trait updates once,
// and render the report. Only a storage fault makes the error non-nil;
// everything else is folded into the report.
func (c *Core) Tick() (TickReport, error) {
	c.setPhase(PhaseParsing)
	c.mu.Lock()
	c.tickSeq++
	tick := c.tickSeq
	intents := c.pending
	c.pending = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Runtime.TickBudget)
	defer cancel()

	c.setPhase(PhaseDispatching)
	var outcomes []tickOutcome
	var feedback personality.Feedback
	for _, in := range c.orderGoalsLast(intents) {
		out := c.dispatchIntent(ctx, tick, in)
		if out.fatal != nil {
			c.setPhase(PhaseIdle)
			return TickReport{}, fmt.Errorf("tick %d: %w", tick, out.fatal)
		}
		if fb := out.feedback; fb != nil {
			if feedback == nil {
				feedback = personality.Feedback{}
			}
			for k, v := range fb {
				feedback[k] += v
			}
		}
		outcomes = append(outcomes, out.tickOutcome)
	}

	c.setPhase(PhaseAggregating)
	report, err := c.aggregate(tick, outcomes, feedback)
	c.setPhase(PhaseIdle)
	return report, err
}

// Run calls Tick until ctx is cancelled or the configured tick limit is
// reached. The stop signal is honored at tick boundaries only; an in-flight
// tick always completes or times out as a whole. A storage fault halts the
// loop with its error.
func (c *Core) Run(ctx context.Context) error {
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if c.cfg.Runtime.MaxTicks > 0 && ticks >= c.cfg.Runtime.MaxTicks {
			return nil
		}

		if _, err := c.Tick(); err != nil {
			c.logger.Error("fatal tick failure", zap.Error(err))
			return err
		}
		ticks++

		c.mu.Lock()
		idle := len(c.pending) == 0
		c.mu.Unlock()
		if idle {
			select {
			case <-ctx.Done():
				return nil
			case <-c.wake:
			case <-time.After(idleWait):
			}
		}
	}
}

// orderGoalsLast sorts goal requests behind direct work and ranks multiple
// goals by affect-perturbed priority, so urgent moods reorder competing
// goals without ever dropping one.
func (c *Core) orderGoalsLast(intents []Intent) []Intent {
	var direct, goals []Intent
	for _, in := range intents {
		if in.Kind == IntentGoalRequest {
			goals = append(goals, in)
		} else {
			direct = append(direct, in)
		}
	}
	if len(goals) > 1 {
		weights := make([]float64, len(goals))
		for i, g := range goals {
			d := c.emotions.InfluenceDecision(emotion.Decision{
				Feasible: true,
				Weight:   float64(goalPriority(g.Payload)),
			})
			weights[i] = d.Weight
		}
		for i := 0; i < len(goals); i++ {
			for j := i + 1; j < len(goals); j++ {
				if weights[j] > weights[i] {
					goals[i], goals[j] = goals[j], goals[i]
					weights[i], weights[j] = weights[j], weights[i]
				}
			}
		}
	}
	return append(direct, goals...)
}

// goalPriority reads trailing exclamation marks as urgency.
func goalPriority(payload string) int {
	p := 5
	for strings.HasSuffix(payload, "!") {
		p++
		payload = strings.TrimSuffix(payload, "!")
	}
	if p > 10 {
		p = 10
	}
	return p
}

type intentOutcome struct {
	tickOutcome
	feedback personality.Feedback
	// fatal carries a storage fault; it aborts the tick and halts Run.
	fatal error
}

// dispatchIntent routes one intent: queries and commands run synchronously,
// goal requests go through the planner and scheduler. A failure becomes a
// failure-flavored event plus a stable message, never an aborted tick.
func (c *Core) dispatchIntent(ctx context.Context, tick uint64, in Intent) intentOutcome {
	var out intentOutcome
	out.units = 1

	event := func(action, outcome string, delta float64) {
		out.events = append(out.events, memory.NarrativeEvent{
			Actor:          "astra",
			Action:         action,
			Outcome:        outcome,
			EmotionalDelta: delta,
		})
	}

	switch in.Verb {
	case "chat":
		reply := personality.RespondToInput(in.Payload, c.persona.Traits(), c.emotions.Snapshot())
		event("chat", in.Payload, 0.1)
		out.reply = reply
		out.valence = 0.1

	case "remember":
		event("remember", in.Payload, 0.05)
		out.reply = "I will remember that."
		out.valence = 0.05

	case "recall":
		events, err := c.store.QueryMemory(in.Payload)
		if err != nil {
			out.fatal = err
			return out
		}
		if len(events) == 0 {
			out.reply = fmt.Sprintf("I have no memory of %q.", in.Payload)
		} else {
			out.reply = fmt.Sprintf("I recall %d events about %q. Most recent: %s.",
				len(events), in.Payload, events[0].Outcome)
		}
		event("recall", in.Payload, 0)

	case "ask":
		out.reply = c.answerQuestion(tick, in.Payload)
		event("ask", in.Payload, 0.1)
		out.valence = 0.1

	case "fact":
		parts := strings.Fields(in.Payload)
		if len(parts) != 3 {
			return c.failOutcome(out, "fact",
				&ParseError{Input: in.Payload, Reason: "facts are subject predicate object triples"})
		}
		err := c.reasoner.AssertFact(knowledge.Fact{
			Subject: parts[0], Predicate: parts[1], Object: parts[2],
			Confidence: 1, Provenance: "user",
		})
		if err != nil {
			return c.failOutcome(out, "fact", err)
		}
		event("fact_asserted", in.Payload, 0.05)
		out.reply = fmt.Sprintf("Noted: %s %s %s.", parts[0], parts[1], parts[2])
		out.valence = 0.05

	case "feedback":
		fb, err := parseFeedback(in.Payload)
		if err != nil {
			return c.failOutcome(out, "feedback", err)
		}
		out.feedback = fb
		event("personality_feedback", in.Payload, 0.05)
		out.reply = "Thank you for the feedback."
		out.valence = 0.05

	case "goal", "plan":
		return c.pursueGoal(ctx, in)

	default:
		return c.failOutcome(out, in.Verb, &ExecutionError{Capability: in.Verb})
	}
	return out
}

// answerQuestion tries inference on the question's subject, falling back
// to stored facts, then to memory.
func (c *Core) answerQuestion(tick uint64, question string) string {
	subject := questionSubject(question)
	session := fmt.Sprintf("tick-%d", tick)
	if subject != "" {
		if facts, err := c.reasoner.Infer(session, subject); err == nil && len(facts) > 0 {
			parts := make([]string, 0, len(facts))
			for _, f := range facts {
				parts = append(parts, fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object))
			}
			return fmt.Sprintf("Here is what I can derive: %s.", strings.Join(parts, "; "))
		}
	}
	events, err := c.store.QueryMemory(subject)
	if err == nil && subject != "" && len(events) > 0 {
		return fmt.Sprintf("I do not have facts on that, but I remember: %s.", events[0].Outcome)
	}
	return personality.RespondToInput(question, c.persona.Traits(), c.emotions.Snapshot())
}

// questionSubject strips question scaffolding down to the likely subject.
func questionSubject(q string) string {
	q = strings.TrimSuffix(strings.TrimSpace(q), "?")
	words := strings.Fields(strings.ToLower(q))
	skip := map[string]bool{
		"what": true, "who": true, "why": true, "how": true, "when": true,
		"where": true, "is": true, "are": true, "does": true, "do": true,
		"a": true, "an": true, "the": true, "about": true, "of": true,
	}
	for _, w := range words {
		if !skip[w] {
			return w
		}
	}
	return ""
}

// pursueGoal plans and executes one goal request within the tick budget.
func (c *Core) pursueGoal(ctx context.Context, in Intent) intentOutcome {
	var out intentOutcome
	goal := planner.Goal{
		Target:   "goal_achieved",
		Priority: goalPriority(in.Payload),
	}

	plan, err := c.plans.CreatePlan(goal)
	if err != nil {
		return c.failOutcome(out, "goal", err)
	}

	c.setPhase(PhaseAwaiting)
	infos, err := c.plans.ExecutePlan(ctx, plan)
	c.setPhase(PhaseDispatching)

	for _, info := range infos {
		action := "task_" + info.State.String()
		outcome := info.Outcome
		if info.Err != nil {
			outcome = info.Err.Error()
		}
		delta := 0.05
		if info.State != scheduler.StateCompleted {
			delta = -0.1
		}
		out.events = append(out.events, memory.NarrativeEvent{
			Actor: info.Module, Action: action, Outcome: outcome, EmotionalDelta: delta,
		})
		out.units++
	}

	if err != nil {
		return c.failOutcome(out, "goal", err)
	}
	out.events = append(out.events, memory.NarrativeEvent{
		Actor: "astra", Action: "goal_completed", Outcome: in.Payload, EmotionalDelta: 0.2,
	})
	out.reply = fmt.Sprintf("Goal accomplished: %s (%d steps).", strings.TrimRight(in.Payload, "!"), len(infos))
	out.valence = 0.2
	return out
}

// failOutcome records a failure event and substitutes the stable message
// for the reply. The tick itself continues.
func (c *Core) failOutcome(out intentOutcome, action string, err error) intentOutcome {
	msg := errorMessage(err)
	c.logger.Warn("intent failed", zap.String("action", action), zap.Error(err))
	out.events = append(out.events, memory.NarrativeEvent{
		Actor:          "astra",
		Action:         action + "_failed",
		Outcome:        msg,
		EmotionalDelta: -0.15,
	})
	out.reply = msg
	out.valence = -0.3
	if out.units == 0 {
		out.units = 1
	}
	return out
}

// errorMessage maps internal errors to the documented user-visible text.
func errorMessage(err error) string {
	var (
		parseErr *ParseError
		execErr  *ExecutionError
		schedErr *scheduler.SchedulingError
		toErr    *scheduler.TimeoutError
		planErr  *planner.PlanningError
	)
	switch {
	case errors.As(err, &parseErr):
		return msgParse
	case errors.As(err, &execErr):
		return msgExec
	case errors.As(err, &toErr):
		return msgTimeout
	case errors.As(err, &schedErr):
		return msgSchedule
	case errors.As(err, &planErr):
		return msgPlanning
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	default:
		return "Something went wrong while handling that."
	}
}

// parseFeedback reads "trait +" / "trait -" / "trait up" / "trait down".
func parseFeedback(payload string) (personality.Feedback, error) {
	parts := strings.Fields(strings.ToLower(payload))
	if len(parts) != 2 {
		return nil, &ParseError{Input: payload, Reason: "feedback is a trait name and a direction"}
	}
	var sign float64
	switch parts[1] {
	case "+", "up", "more":
		sign = 1
	case "-", "down", "less":
		sign = -1
	default:
		return nil, &ParseError{Input: payload, Reason: "direction must be +/-/up/down/more/less"}
	}
	return personality.Feedback{parts[0]: sign}, nil
}

// aggregate commits the tick's events, applies the single emotion update
// and optional personality adaptation, and renders the report. A storage
// fault here is fatal.
func (c *Core) aggregate(tick uint64, outcomes []tickOutcome, feedback personality.Feedback) (TickReport, error) {
	var committed []memory.NarrativeEvent
	var reply string
	var valence float64
	units := 0

	for _, out := range outcomes {
		for _, ev := range out.events {
			stored, err := c.store.StoreEvent(ev)
			if err != nil {
				return TickReport{}, fmt.Errorf("tick %d commit: %w", tick, err)
			}
			committed = append(committed, stored)
			for _, m := range c.modules {
				m.OnEvent(stored)
			}
		}
		if out.reply != "" {
			reply = out.reply
		}
		valence += out.valence
		units += out.units
	}

	// Exactly one affect transition per tick: event-driven delta when work
	// happened, pure decay otherwise.
	var mood emotion.State
	if units > 0 {
		intensity := float64(units) / 4
		if intensity > 1 {
			intensity = 1
		}
		mood = c.emotions.UpdateEmotion(emotion.Event{
			Valence:   clampUnit(valence),
			Intensity: intensity,
		}, tick)
	} else {
		mood = c.emotions.Decay(tick)
	}

	traits := c.persona.Traits()
	if feedback != nil {
		traits = c.persona.UpdateTraits(feedback)
	}

	for _, m := range c.modules {
		if err := m.HandleTick(tick); err != nil {
			c.logger.Warn("module tick hook failed",
				zap.String("module", m.Name()), zap.Error(err))
		}
	}

	if reply == "" {
		reply = fmt.Sprintf("Tick %d complete.", tick)
	}
	c.logger.Debug("tick complete",
		zap.Uint64("tick", tick),
		zap.Int("events", len(committed)),
		zap.String("scheduler", c.sched.Metrics().String()))
	c.sched.Prune()

	return TickReport{
		Tick:    tick,
		Reply:   reply,
		Emotion: mood,
		Traits:  traits,
		Events:  committed,
	}, nil
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
