// Package emotion maintains the runtime's affect model: a bounded vector of
// valence, arousal, and dominance that reacts to events and decays toward a
// configurable baseline with a half-life measured in ticks.
package emotion

import (
	"math"

	"go.uber.org/zap"

	"astra/internal/config"
)

// State is the affect vector. Every dimension stays within [-1,1].
type State struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Event is an affect-relevant occurrence. Valence is in [-1,1]; Intensity is
// in [0,1] and scales how strongly the event lands.
type Event struct {
	Valence   float64
	Intensity float64
}

// Decision carries a ranking weight that affect may perturb. Feasibility is
// out of bounds for the emotion engine: it only shifts relative preference.
type Decision struct {
	Feasible bool
	Weight   float64
}

// Stimulus weights, carried over from the affect model's original tuning:
// urgency dominates, motivation helps, stress drags.
const (
	valenceGain   = 0.6
	arousalGain   = 0.8
	dominanceGain = 0.2

	// influenceBound caps how far a decision weight can be perturbed.
	influenceBound = 0.25
)

// Engine owns no state mutation schedule of its own; the runtime core calls
// it exactly once per tick, which keeps EmotionState single-writer.
type Engine struct {
	state      State
	baseline   State
	halfLife   float64
	lastUpdate uint64
	logger     *zap.Logger
}

// NewEngine builds an engine resting at its configured baseline.
func NewEngine(cfg config.EmotionConfig, logger *zap.Logger) *Engine {
	baseline := State{
		Valence:   clamp(cfg.BaselineValence),
		Arousal:   clamp(cfg.BaselineArousal),
		Dominance: clamp(cfg.BaselineDominance),
	}
	return &Engine{
		state:    baseline,
		baseline: baseline,
		halfLife: cfg.HalfLifeTicks,
		logger:   logger.With(zap.String("component", "emotion")),
	}
}

// UpdateEmotion applies the event's weighted delta to each dimension, then
// decays the state toward baseline in proportion to the ticks elapsed since
// the previous update. The result is clamped to [-1,1] per dimension.
func (e *Engine) UpdateEmotion(ev Event, tick uint64) State {
	intensity := math.Max(0, math.Min(1, ev.Intensity))
	valence := clamp(ev.Valence)

	e.state.Valence = clamp(e.state.Valence + valenceGain*valence*intensity)
	e.state.Arousal = clamp(e.state.Arousal + arousalGain*intensity)
	e.state.Dominance = clamp(e.state.Dominance + dominanceGain*valence*intensity)

	e.decay(tick)

	e.logger.Debug("emotion updated",
		zap.Float64("valence", e.state.Valence),
		zap.Float64("arousal", e.state.Arousal),
		zap.Float64("dominance", e.state.Dominance),
		zap.Uint64("tick", tick))
	return e.state
}

// Decay applies only the time-based component, for ticks with no events.
func (e *Engine) Decay(tick uint64) State {
	e.decay(tick)
	return e.state
}

func (e *Engine) decay(tick uint64) {
	elapsed := float64(0)
	if tick > e.lastUpdate {
		elapsed = float64(tick - e.lastUpdate)
	}
	e.lastUpdate = tick
	if elapsed == 0 || e.halfLife <= 0 {
		return
	}

	factor := math.Pow(0.5, elapsed/e.halfLife)
	e.state.Valence = clamp(e.baseline.Valence + (e.state.Valence-e.baseline.Valence)*factor)
	e.state.Arousal = clamp(e.baseline.Arousal + (e.state.Arousal-e.baseline.Arousal)*factor)
	e.state.Dominance = clamp(e.baseline.Dominance + (e.state.Dominance-e.baseline.Dominance)*factor)
}

// InfluenceDecision perturbs the decision's ranking weight by a bounded
// multiplicative factor derived from current arousal and valence. It never
// changes whether the decision is feasible.
func (e *Engine) InfluenceDecision(d Decision) Decision {
	if !d.Feasible {
		return d
	}
	shift := 0.6*e.state.Arousal + 0.4*e.state.Valence
	if shift > 1 {
		shift = 1
	} else if shift < -1 {
		shift = -1
	}
	d.Weight *= 1 + influenceBound*shift
	return d
}

// Snapshot returns a copy of the current state for rendering.
func (e *Engine) Snapshot() State {
	return e.state
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
