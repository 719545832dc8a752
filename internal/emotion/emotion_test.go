package emotion

import (
	"math"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"astra/internal/config"
)

func newTestEngine() *Engine {
	return NewEngine(config.EmotionConfig{
		HalfLifeTicks:   8,
		BaselineValence: 0.1,
	}, zap.NewNop())
}

func inBounds(s State) bool {
	for _, v := range []float64{s.Valence, s.Arousal, s.Dominance} {
		if v < -1 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func TestUpdateEmotionStaysBounded(t *testing.T) {
	e := newTestEngine()
	rng := rand.New(rand.NewSource(42))

	for tick := uint64(1); tick <= 500; tick++ {
		ev := Event{
			Valence:   rng.Float64()*4 - 2, // deliberately out of range
			Intensity: rng.Float64() * 2,
		}
		got := e.UpdateEmotion(ev, tick)
		if !inBounds(got) {
			t.Fatalf("tick %d: state out of bounds: %+v", tick, got)
		}
	}
}

func TestPositiveEventRaisesValence(t *testing.T) {
	e := newTestEngine()
	before := e.Snapshot()
	after := e.UpdateEmotion(Event{Valence: 0.9, Intensity: 1}, 1)
	if after.Valence <= before.Valence {
		t.Errorf("valence %v not raised from %v by positive event", after.Valence, before.Valence)
	}
	if after.Arousal <= before.Arousal {
		t.Errorf("arousal %v not raised from %v by intense event", after.Arousal, before.Arousal)
	}
}

func TestDecayApproachesBaseline(t *testing.T) {
	e := newTestEngine()
	e.UpdateEmotion(Event{Valence: -1, Intensity: 1}, 1)
	disturbed := e.Snapshot()

	// Many half-lives later the state should be back near baseline.
	settled := e.Decay(200)
	if math.Abs(settled.Valence-0.1) > 0.01 {
		t.Errorf("valence %v did not settle near baseline 0.1 (was %v)", settled.Valence, disturbed.Valence)
	}
	if math.Abs(settled.Arousal) > 0.01 {
		t.Errorf("arousal %v did not settle near baseline 0", settled.Arousal)
	}
}

func TestDecayHalvesDistanceAtHalfLife(t *testing.T) {
	e := NewEngine(config.EmotionConfig{HalfLifeTicks: 4}, zap.NewNop())
	e.UpdateEmotion(Event{Valence: 1, Intensity: 1}, 0)
	start := e.Snapshot().Valence

	got := e.Decay(4).Valence
	want := start / 2 // baseline is zero
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("valence after one half-life = %v, want %v", got, want)
	}
}

func TestInfluenceDecisionBounded(t *testing.T) {
	e := newTestEngine()
	// Drive arousal and valence to the ceiling.
	for tick := uint64(1); tick < 20; tick++ {
		e.UpdateEmotion(Event{Valence: 1, Intensity: 1}, tick)
	}

	d := e.InfluenceDecision(Decision{Feasible: true, Weight: 1})
	if !d.Feasible {
		t.Error("InfluenceDecision changed feasibility")
	}
	if d.Weight < 0.75 || d.Weight > 1.25 {
		t.Errorf("weight %v outside the bounded perturbation range", d.Weight)
	}

	infeasible := e.InfluenceDecision(Decision{Feasible: false, Weight: 1})
	if infeasible.Feasible || infeasible.Weight != 1 {
		t.Errorf("infeasible decision altered: %+v", infeasible)
	}
}
