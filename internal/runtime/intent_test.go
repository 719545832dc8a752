package runtime

import (
	"errors"
	"testing"
)

func TestParseIntentsClassification(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind IntentKind
		verb string
	}{
		{"plain chat", "Hello there", IntentCommand, "chat"},
		{"question mark", "Is the sky blue?", IntentQuery, "ask"},
		{"question word", "what happened yesterday", IntentQuery, "ask"},
		{"goal directive", "goal: tidy the fact base", IntentGoalRequest, "goal"},
		{"plan directive", "plan: summarize history", IntentGoalRequest, "plan"},
		{"remember", "remember: the cat sat on the mat", IntentCommand, "remember"},
		{"recall", "recall: cat", IntentQuery, "recall"},
		{"fact", "fact: socrates is_a human", IntentCommand, "fact"},
		{"feedback", "feedback: openness +", IntentCommand, "feedback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intents, err := parseIntents(tc.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(intents) != 1 {
				t.Fatalf("got %d intents, want 1", len(intents))
			}
			if intents[0].Kind != tc.kind {
				t.Errorf("kind: got %v, want %v", intents[0].Kind, tc.kind)
			}
			if intents[0].Verb != tc.verb {
				t.Errorf("verb: got %q, want %q", intents[0].Verb, tc.verb)
			}
		})
	}
}

func TestParseIntentsEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n"} {
		_, err := parseIntents(in)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("input %q: got %v, want ParseError", in, err)
		}
	}
}

func TestParseIntentsUnknownDirective(t *testing.T) {
	_, err := parseIntents("teleport: the moon")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want ExecutionError", err)
	}
	if ee.Capability != "teleport" {
		t.Errorf("capability: got %q", ee.Capability)
	}
}

func TestParseIntentsDirectiveNeedsArgument(t *testing.T) {
	_, err := parseIntents("goal:")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestParseIntentsMultiline(t *testing.T) {
	intents, err := parseIntents("fact: water is liquid\nwhat is water")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("got %d intents, want 2", len(intents))
	}
	if intents[0].Verb != "fact" || intents[1].Verb != "ask" {
		t.Errorf("verbs: got %q, %q", intents[0].Verb, intents[1].Verb)
	}
}

func TestParseIntentsProseColonIsNotDirective(t *testing.T) {
	intents, err := parseIntents("my view: we should rest")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intents[0].Verb != "chat" {
		t.Errorf("verb: got %q, want chat", intents[0].Verb)
	}
}

func TestGoalPriorityFromUrgency(t *testing.T) {
	if got := goalPriority("ship it"); got != 5 {
		t.Errorf("plain: got %d, want 5", got)
	}
	if got := goalPriority("ship it!!!"); got != 8 {
		t.Errorf("urgent: got %d, want 8", got)
	}
	if got := goalPriority("now!!!!!!!!"); got != 10 {
		t.Errorf("cap: got %d, want 10", got)
	}
}
