package runtime

import (
	"strings"

	"astra/internal/knowledge"
	"astra/internal/learning"
	"astra/internal/memory"
)

// Module is the closed integration surface for subsystems that observe the
// tick loop. The core drives all state mutation itself; modules react to
// tick boundaries and committed events.
type Module interface {
	Name() string
	// HandleTick runs after a tick's events are committed.
	HandleTick(tick uint64) error
	// OnEvent observes one committed narrative event.
	OnEvent(ev memory.NarrativeEvent)
}

// learningModule feeds the trainer from the event stream: remembered
// content counts as a learned concept, goal completions as built modules.
type learningModule struct {
	trainer learning.Trainer
}

func (m *learningModule) Name() string { return "learning" }

func (m *learningModule) HandleTick(tick uint64) error { return nil }

func (m *learningModule) OnEvent(ev memory.NarrativeEvent) {
	switch ev.Action {
	case "remember":
		m.trainer.RecordConcept(ev.Outcome)
	case "goal_completed":
		m.trainer.RecordModule(ev.Outcome)
	case "ask":
		m.trainer.RecordSession(ev.Outcome)
	}
}

// knowledgeModule mirrors remembered statements into the fact base when
// they parse as a triple, so later questions can reason over them.
type knowledgeModule struct {
	reasoner *knowledge.Reasoner
}

func (m *knowledgeModule) Name() string { return "knowledge" }

func (m *knowledgeModule) HandleTick(tick uint64) error { return nil }

func (m *knowledgeModule) OnEvent(ev memory.NarrativeEvent) {
	if ev.Action != "remember" {
		return
	}
	parts := strings.Fields(ev.Outcome)
	if len(parts) != 3 {
		return
	}
	_ = m.reasoner.AssertFact(knowledge.Fact{
		Subject:    parts[0],
		Predicate:  parts[1],
		Object:     parts[2],
		Confidence: 1,
		Provenance: "narrative",
	})
}
