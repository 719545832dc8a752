package runtime

import (
	"fmt"
	"strings"
	"time"
)

// ParseError marks input that could not be turned into intents.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

// ExecutionError marks an intent referencing a capability the runtime does
// not have.
type ExecutionError struct {
	Capability string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("unsupported capability %q", e.Capability)
}

// IntentKind classifies one parsed unit of input.
type IntentKind int

const (
	// IntentQuery - read-only question, answered synchronously within the tick
	IntentQuery IntentKind = iota
	// IntentCommand - direct state mutation (remember, fact, feedback, chat)
	IntentCommand
	// IntentGoalRequest - desired end state, routed through the planner
	IntentGoalRequest
)

func (k IntentKind) String() string {
	switch k {
	case IntentQuery:
		return "query"
	case IntentCommand:
		return "command"
	case IntentGoalRequest:
		return "goal_request"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Intent is one parsed unit of input. Created at the start of a tick,
// consumed within it, never persisted.
type Intent struct {
	Kind IntentKind
	// Verb names the capability (chat, remember, recall, fact, feedback,
	// goal, ask).
	Verb string
	// Payload is the verb's argument text.
	Payload string
	Created time.Time
}

// directives are the recognized "verb:" prefixes. Anything else written in
// directive form is an unsupported capability.
var directives = map[string]IntentKind{
	"goal":     IntentGoalRequest,
	"plan":     IntentGoalRequest,
	"fact":     IntentCommand,
	"remember": IntentCommand,
	"recall":   IntentQuery,
	"feedback": IntentCommand,
}

var questionWords = []string{"what", "who", "why", "how", "when", "where", "is", "are", "does", "do"}

// parseIntents splits input into newline-separated units and classifies
// each. Explicit directives ("goal: ...", "remember: ...") are routed by
// verb; question-shaped text becomes a knowledge query; everything else is
// conversational.
func parseIntents(input string) ([]Intent, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &ParseError{Input: input, Reason: "empty input"}
	}

	now := time.Now()
	var intents []Intent
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if verb, rest, ok := splitDirective(line); ok {
			kind, known := directives[verb]
			if !known {
				return nil, &ExecutionError{Capability: verb}
			}
			if rest == "" {
				return nil, &ParseError{Input: line, Reason: "directive " + verb + " needs an argument"}
			}
			intents = append(intents, Intent{Kind: kind, Verb: verb, Payload: rest, Created: now})
			continue
		}

		if isQuestion(line) {
			intents = append(intents, Intent{Kind: IntentQuery, Verb: "ask", Payload: line, Created: now})
			continue
		}
		intents = append(intents, Intent{Kind: IntentCommand, Verb: "chat", Payload: line, Created: now})
	}
	if len(intents) == 0 {
		return nil, &ParseError{Input: input, Reason: "no parsable content"}
	}
	return intents, nil
}

// splitDirective recognizes "verb: argument" form. The verb must be a
// single lowercase word; prose containing a colon later in the line is not
// a directive.
func splitDirective(line string) (verb, rest string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	verb = strings.ToLower(strings.TrimSpace(line[:idx]))
	if verb == "" || strings.ContainsAny(verb, " \t") {
		return "", "", false
	}
	return verb, strings.TrimSpace(line[idx+1:]), true
}

func isQuestion(line string) bool {
	if strings.HasSuffix(line, "?") {
		return true
	}
	first := strings.ToLower(strings.SplitN(line, " ", 2)[0])
	for _, w := range questionWords {
		if first == w {
			return true
		}
	}
	return false
}
