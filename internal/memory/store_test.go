package memory

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T, maxEvents int) *Store {
	t.Helper()
	s, err := Open("", maxEvents, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreEventAssignsMonotonicSeq(t *testing.T) {
	s := newTestStore(t, 100)

	var last int64
	for i := 0; i < 10; i++ {
		ev, err := s.StoreEvent(NarrativeEvent{Actor: "runtime", Action: "tick", Outcome: fmt.Sprintf("tick %d", i)})
		if err != nil {
			t.Fatalf("StoreEvent() error = %v", err)
		}
		if ev.Seq <= last {
			t.Fatalf("seq %d not greater than previous %d", ev.Seq, last)
		}
		last = ev.Seq
	}
}

func TestAppendThenReadReturnsSameEvent(t *testing.T) {
	s := newTestStore(t, 100)

	stored, err := s.StoreEvent(NarrativeEvent{
		Actor:          "emotion",
		Action:         "update",
		Outcome:        "valence raised",
		EmotionalDelta: 0.25,
	})
	if err != nil {
		t.Fatalf("StoreEvent() error = %v", err)
	}

	got, err := s.RecentEvents(1)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("RecentEvents(1) returned %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Seq != stored.Seq || ev.Actor != "emotion" || ev.Action != "update" ||
		ev.Outcome != "valence raised" || ev.EmotionalDelta != 0.25 {
		t.Errorf("round-tripped event = %+v, want %+v", ev, stored)
	}
	if !ev.Timestamp.Equal(stored.Timestamp) && ev.Timestamp.UnixMilli() != stored.Timestamp.UnixMilli() {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, stored.Timestamp)
	}
}

func TestRecentEventsOrderAndLimit(t *testing.T) {
	s := newTestStore(t, 100)

	for i := 0; i < 7; i++ {
		if _, err := s.StoreEvent(NarrativeEvent{Actor: "a", Action: "act", Outcome: fmt.Sprintf("event %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentEvents(3)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Most recent first.
	want := []string{"event 6", "event 5", "event 4"}
	for i, ev := range got {
		if ev.Outcome != want[i] {
			t.Errorf("got[%d].Outcome = %q, want %q", i, ev.Outcome, want[i])
		}
	}

	// Asking for more than the log length returns the whole log.
	all, err := s.RecentEvents(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 7 {
		t.Errorf("RecentEvents(100) len = %d, want 7", len(all))
	}
}

func TestEvictionKeepsNewestAndSeqNotReused(t *testing.T) {
	s := newTestStore(t, 3)

	for i := 0; i < 6; i++ {
		if _, err := s.StoreEvent(NarrativeEvent{Actor: "a", Action: "act", Outcome: fmt.Sprintf("event %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Len() = %d, want 3 after eviction", n)
	}

	got, err := s.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if got[len(got)-1].Outcome != "event 3" {
		t.Errorf("oldest retained = %q, want %q", got[len(got)-1].Outcome, "event 3")
	}

	// New appends continue the sequence past the evicted range.
	ev, err := s.StoreEvent(NarrativeEvent{Actor: "a", Action: "act", Outcome: "after eviction"})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 7 {
		t.Errorf("seq after eviction = %d, want 7", ev.Seq)
	}
}

func TestQueryMemory(t *testing.T) {
	s := newTestStore(t, 100)

	events := []NarrativeEvent{
		{Actor: "runtime", Action: "intent_created", Outcome: "parsed greeting from user"},
		{Actor: "planner", Action: "plan_created", Outcome: "three step plan for research goal"},
		{Actor: "runtime", Action: "tick", Outcome: "tick completed"},
	}
	for _, ev := range events {
		if _, err := s.StoreEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.QueryMemory("greeting")
	if err != nil {
		t.Fatalf("QueryMemory() error = %v", err)
	}
	if len(got) != 1 || got[0].Outcome != "parsed greeting from user" {
		t.Errorf("QueryMemory(greeting) = %+v, want the greeting event", got)
	}

	// No match is an empty slice, not an error.
	none, err := s.QueryMemory("zebra")
	if err != nil {
		t.Fatalf("QueryMemory() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("QueryMemory(zebra) returned %d events, want 0", len(none))
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t, 1000)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.StoreEvent(NarrativeEvent{Actor: "w", Action: "append", Outcome: fmt.Sprintf("%d/%d", w, i)}); err != nil {
					t.Errorf("StoreEvent() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	all, err := s.RecentEvents(writers * perWriter)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != writers*perWriter {
		t.Fatalf("stored %d events, want %d", len(all), writers*perWriter)
	}
	// Sequence numbers are unique and strictly decreasing in recency order.
	for i := 1; i < len(all); i++ {
		if all[i].Seq >= all[i-1].Seq {
			t.Fatalf("sequence not strictly decreasing at %d: %d >= %d", i, all[i].Seq, all[i-1].Seq)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astra", "memory.db")

	s, err := Open(path, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.StoreEvent(NarrativeEvent{Actor: "runtime", Action: "boot", Outcome: "first boot"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.RecentEvents(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Outcome != "first boot" {
		t.Errorf("after reopen got %+v, want the boot event", got)
	}
}
