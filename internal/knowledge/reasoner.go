// Package knowledge implements the symbolic reasoner: a store of
// subject-predicate-object facts with confidence and provenance, evaluated
// to fixpoint by the Mangle Datalog engine against ontology rules.
//
// The runtime core only reads inference results; fact ownership stays here.
package knowledge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Fact is one knowledge triple.
type Fact struct {
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
	Provenance string
}

// defaultRules are always present: predicate declarations, projection of
// stored triples into the derived relation, and is_a transitivity so the
// ontology hierarchy closes.
const defaultRules = `
Decl triple(Subject, Predicate, Object, Confidence, Provenance).
Decl inferred(Subject, Predicate, Object).

inferred(S, P, O) :- triple(S, P, O, _, _).
inferred(S, "is_a", O) :- triple(S, "is_a", M, _, _), inferred(M, "is_a", O).
`

// Reasoner owns the fact base and rederives the closure after every change.
type Reasoner struct {
	mu          sync.RWMutex
	facts       []Fact
	extraRules  string
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
	chains      map[string][]string
	logger      *zap.Logger
}

// NewReasoner builds an empty reasoner with the built-in ontology rules.
func NewReasoner(logger *zap.Logger) (*Reasoner, error) {
	r := &Reasoner{
		facts:  make([]Fact, 0),
		chains: make(map[string][]string),
		logger: logger.With(zap.String("component", "knowledge")),
	}
	if err := r.rebuildLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// AssertFact adds a triple and rederives the closure.
func (r *Reasoner) AssertFact(f Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.Subject == "" || f.Predicate == "" || f.Object == "" {
		return fmt.Errorf("incomplete triple %+v", f)
	}
	if f.Confidence <= 0 {
		f.Confidence = 1
	}
	r.facts = append(r.facts, f)
	return r.rebuildLocked()
}

// SetRules replaces the file-loaded ontology rules (the built-in rules are
// kept) and rederives the closure.
func (r *Reasoner) SetRules(rules string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.extraRules
	r.extraRules = rules
	if err := r.rebuildLocked(); err != nil {
		// A broken rule file must not take down the current closure.
		r.extraRules = prev
		if rerr := r.rebuildLocked(); rerr != nil {
			return rerr
		}
		return err
	}
	r.logger.Info("ontology rules reloaded", zap.Int("bytes", len(rules)))
	return nil
}

// rebuildLocked reconstructs the Mangle program from facts plus rules and
// evaluates it to fixpoint.
func (r *Reasoner) rebuildLocked() error {
	var sb strings.Builder
	sb.WriteString(defaultRules)
	if r.extraRules != "" {
		sb.WriteString("\n")
		sb.WriteString(r.extraRules)
		sb.WriteString("\n")
	}
	for _, f := range r.facts {
		fmt.Fprintf(&sb, "triple(%q, %q, %q, %f, %q).\n",
			f.Subject, f.Predicate, f.Object, f.Confidence, f.Provenance)
	}

	unit, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("parse knowledge program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("analyze knowledge program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return fmt.Errorf("evaluate knowledge program: %w", err)
	}

	r.programInfo = programInfo
	r.store = store
	return nil
}

// QueryFacts returns stored triples with the given predicate; an empty
// predicate returns everything.
func (r *Reasoner) QueryFacts(predicate string) []Fact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Fact, 0)
	for _, f := range r.facts {
		if predicate == "" || f.Predicate == predicate {
			out = append(out, f)
		}
	}
	return out
}

// Infer runs the derived relation for subject and records the reasoning
// chain under the session label for later inspection.
func (r *Reasoner) Infer(session, subject string) ([]Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.programInfo == nil {
		return nil, fmt.Errorf("reasoner not initialized")
	}

	results := make([]Fact, 0)
	steps := []string{fmt.Sprintf("goal: derive facts about %q", subject)}

	pred := ast.PredicateSym{Symbol: "inferred", Arity: 3}
	err := r.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
		f := atomToFact(a)
		if f.Subject != subject {
			return nil
		}
		results = append(results, f)
		steps = append(steps, fmt.Sprintf("derived: %s %s %s", f.Subject, f.Predicate, f.Object))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query inferred facts: %w", err)
	}

	if len(results) == 0 {
		steps = append(steps, "no derivations found")
	}
	r.chains[session] = steps
	return results, nil
}

// ReasoningChains returns the recorded chains, keyed by session label, each
// an ordered sequence of textual steps.
func (r *Reasoner) ReasoningChains() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.chains))
	for k, v := range r.chains {
		steps := make([]string, len(v))
		copy(steps, v)
		out[k] = steps
	}
	return out
}

// FactCount reports how many base triples are stored.
func (r *Reasoner) FactCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facts)
}

// atomToFact maps a derived inferred/3 atom back into a triple.
func atomToFact(a ast.Atom) Fact {
	get := func(i int) string {
		if i >= len(a.Args) {
			return ""
		}
		if c, ok := a.Args[i].(ast.Constant); ok {
			return c.Symbol
		}
		return fmt.Sprintf("%v", a.Args[i])
	}
	return Fact{
		Subject:    get(0),
		Predicate:  get(1),
		Object:     get(2),
		Confidence: 1,
		Provenance: "derived",
	}
}
