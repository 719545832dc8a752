// Package personality maintains the runtime's stable behavioral traits and
// renders reply text shaped by them. Traits follow the Big Five model; the
// profile is a non-negative weight map normalized to sum 1.
package personality

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"astra/internal/config"
	"astra/internal/emotion"
)

// Canonical trait names.
const (
	TraitOpenness          = "openness"
	TraitConscientiousness = "conscientiousness"
	TraitExtraversion      = "extraversion"
	TraitAgreeableness     = "agreeableness"
	TraitNeuroticism       = "neuroticism"
)

// Profile maps trait name to weight. Weights are non-negative and sum to 1
// within floating tolerance.
type Profile map[string]float64

// Feedback adjusts traits in the direction of its sign, e.g.
// {"openness": +1, "neuroticism": -1}.
type Feedback map[string]float64

// Engine adapts traits on explicit feedback only, never on ordinary ticks.
type Engine struct {
	profile      Profile
	learningRate float64
	logger       *zap.Logger
}

// NewEngine starts from the default trait disposition, normalized.
func NewEngine(cfg config.PersonalityConfig, logger *zap.Logger) *Engine {
	profile := Profile{
		TraitOpenness:          0.8,
		TraitConscientiousness: 0.7,
		TraitExtraversion:      0.6,
		TraitAgreeableness:     0.9,
		TraitNeuroticism:       0.2,
	}
	normalize(profile)
	return &Engine{
		profile:      profile,
		learningRate: cfg.LearningRate,
		logger:       logger.With(zap.String("component", "personality")),
	}
}

// Traits returns a read-only snapshot of the current profile.
func (e *Engine) Traits() Profile {
	out := make(Profile, len(e.profile))
	for k, v := range e.profile {
		out[k] = v
	}
	return out
}

// UpdateTraits nudges each named trait in the direction of the feedback's
// sign, scaled by the learning rate, clipped to [0,1], then renormalized so
// the weights sum to 1 again. Unknown trait names are ignored.
func (e *Engine) UpdateTraits(fb Feedback) Profile {
	for name, delta := range fb {
		current, ok := e.profile[name]
		if !ok {
			e.logger.Warn("ignoring feedback for unknown trait", zap.String("trait", name))
			continue
		}
		step := e.learningRate
		if delta < 0 {
			step = -step
		} else if delta == 0 {
			continue
		}
		e.profile[name] = math.Min(1, math.Max(0, current+step))
	}
	normalize(e.profile)

	e.logger.Info("personality traits adapted", zap.Int("feedback_fields", len(fb)))
	return e.Traits()
}

// RespondToInput renders reply text for input. It is deterministic in the
// triple (input, traits, emotion): the same arguments always yield the same
// string, which keeps conversation tests reproducible.
func RespondToInput(input string, traits Profile, mood emotion.State) string {
	input = strings.TrimSpace(input)

	var sb strings.Builder
	dominant := dominantTrait(traits)

	switch dominant {
	case TraitOpenness:
		sb.WriteString(fmt.Sprintf("That's fascinating! Tell me more about %s.", input))
	case TraitAgreeableness:
		sb.WriteString(fmt.Sprintf("I hear you on %s - let's work through it together.", input))
	case TraitConscientiousness:
		sb.WriteString(fmt.Sprintf("Noted: %s. I'll handle it methodically.", input))
	case TraitExtraversion:
		sb.WriteString(fmt.Sprintf("Great topic - %s! Here's what I think.", input))
	default:
		sb.WriteString(fmt.Sprintf("Okay, I see: %s. What else?", input))
	}

	switch {
	case mood.Valence > 0.5:
		sb.WriteString(" I'm feeling good about this.")
	case mood.Valence < -0.5:
		sb.WriteString(" Though I admit this weighs on me a little.")
	}
	if mood.Arousal > 0.7 {
		sb.WriteString(" Let's move quickly.")
	}

	return sb.String()
}

// dominantTrait picks the highest-weighted trait, breaking ties by name so
// rendering stays deterministic across map iteration orders.
func dominantTrait(traits Profile) string {
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestWeight := -1.0
	for _, name := range names {
		if traits[name] > bestWeight {
			best = name
			bestWeight = traits[name]
		}
	}
	return best
}

func normalize(p Profile) {
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	if sum <= 0 {
		// Degenerate profile: reset to a uniform distribution.
		for k := range p {
			p[k] = 1 / float64(len(p))
		}
		return
	}
	for k, v := range p {
		p[k] = v / sum
	}
}

// Sum reports the total weight, for invariant checks.
func (p Profile) Sum() float64 {
	s := 0.0
	for _, v := range p {
		s += v
	}
	return s
}
