package learning

import (
	"sync"
	"testing"
)

func TestProgressCountsDeduplicated(t *testing.T) {
	tr := NewMemoryTrainer()

	tr.RecordConcept("recursion")
	tr.RecordConcept("recursion")
	tr.RecordConcept("induction")
	tr.RecordSession("session-1")
	tr.RecordModule("parser")
	tr.RecordModule("")

	p := tr.Progress()
	if p.ConceptsLearned != 2 {
		t.Fatalf("concepts: got %d, want 2", p.ConceptsLearned)
	}
	if p.ResearchSessions != 1 {
		t.Fatalf("sessions: got %d, want 1", p.ResearchSessions)
	}
	if p.CodeModulesCreated != 1 {
		t.Fatalf("modules: got %d, want 1", p.CodeModulesCreated)
	}
	if p.LastUpdated.IsZero() {
		t.Fatal("last updated not set")
	}
}

func TestProgressEmptyTrainer(t *testing.T) {
	p := NewMemoryTrainer().Progress()
	if p.ConceptsLearned != 0 || p.ResearchSessions != 0 || p.CodeModulesCreated != 0 {
		t.Fatalf("expected zeroed progress, got %+v", p)
	}
	if !p.LastUpdated.IsZero() {
		t.Fatal("expected zero timestamp on an untouched trainer")
	}
}

func TestConcurrentRecording(t *testing.T) {
	tr := NewMemoryTrainer()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordConcept("shared")
			tr.RecordSession("shared")
		}()
	}
	wg.Wait()

	p := tr.Progress()
	if p.ConceptsLearned != 1 || p.ResearchSessions != 1 {
		t.Fatalf("expected deduplicated counts, got %+v", p)
	}
}
