// Package learning tracks what the runtime has absorbed over its lifetime.
// The counters back the learning-progress visualization.
package learning

import (
	"sync"
	"time"
)

// Progress is a point-in-time summary of accumulated learning.
type Progress struct {
	ConceptsLearned    int       `json:"concepts_learned"`
	ResearchSessions   int       `json:"research_sessions"`
	CodeModulesCreated int       `json:"code_modules_created"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Trainer records learning milestones and reports progress.
type Trainer interface {
	RecordConcept(name string)
	RecordSession(label string)
	RecordModule(name string)
	Progress() Progress
}

// MemoryTrainer is an in-process Trainer keeping deduplicated counters.
type MemoryTrainer struct {
	mu       sync.Mutex
	concepts map[string]struct{}
	sessions map[string]struct{}
	modules  map[string]struct{}
	updated  time.Time
}

// NewMemoryTrainer returns an empty trainer.
func NewMemoryTrainer() *MemoryTrainer {
	return &MemoryTrainer{
		concepts: make(map[string]struct{}),
		sessions: make(map[string]struct{}),
		modules:  make(map[string]struct{}),
	}
}

func (t *MemoryTrainer) RecordConcept(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.concepts[name] = struct{}{}
	t.updated = time.Now()
}

func (t *MemoryTrainer) RecordSession(label string) {
	if label == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[label] = struct{}{}
	t.updated = time.Now()
}

func (t *MemoryTrainer) RecordModule(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules[name] = struct{}{}
	t.updated = time.Now()
}

func (t *MemoryTrainer) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{
		ConceptsLearned:    len(t.concepts),
		ResearchSessions:   len(t.sessions),
		CodeModulesCreated: len(t.modules),
		LastUpdated:        t.updated,
	}
}
