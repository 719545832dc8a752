package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherLoadsRulesOnStart(t *testing.T) {
	dir := t.TempDir()
	rule := `inferred(S, "likes", O) :- triple(S, "loves", O, _, _).` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.mg"), []byte(rule), 0o644))

	r, err := NewReasoner(zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.AssertFact(Fact{Subject: "ada", Predicate: "loves", Object: "math", Confidence: 1}))

	w, err := NewRulesWatcher(dir, r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	facts, err := r.Infer("watch-test", "ada")
	require.NoError(t, err)

	found := false
	for _, f := range facts {
		if f.Predicate == "likes" && f.Object == "math" {
			found = true
		}
	}
	assert.True(t, found, "rule file loaded at start must extend derivations")
}

func TestWatcherMissingDirectoryIsHarmless(t *testing.T) {
	r, err := NewReasoner(zap.NewNop())
	require.NoError(t, err)

	w, err := NewRulesWatcher(filepath.Join(t.TempDir(), "absent"), r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
