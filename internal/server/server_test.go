package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"astra/internal/config"
	"astra/internal/runtime"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Memory.DatabasePath = ""
	cfg.Runtime.TickBudget = 5 * time.Second
	core, err := runtime.Bootstrap(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })

	return New(core, zap.NewNop()).SetupRouter()
}

func postChat(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatReturnsTickReport(t *testing.T) {
	r := testRouter(t)

	w := postChat(t, r, `{"message": "Hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reply             string             `json:"reply"`
		EmotionState      map[string]float64 `json:"emotion_state"`
		PersonalityTraits map[string]float64 `json:"personality_traits"`
		RecentEvents      []string           `json:"recent_events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.Reply)
	assert.Len(t, resp.EmotionState, 3)
	for dim, v := range resp.EmotionState {
		assert.GreaterOrEqual(t, v, -1.0, dim)
		assert.LessOrEqual(t, v, 1.0, dim)
	}
	var sum float64
	for _, w := range resp.PersonalityTraits {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.NotEmpty(t, resp.RecentEvents)
	assert.Contains(t, resp.RecentEvents[0], "Hello")
}

func TestChatRejectsMissingMessage(t *testing.T) {
	r := testRouter(t)

	w := postChat(t, r, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request")
}

func TestChatMapsExecutionErrorToStableMessage(t *testing.T) {
	r := testRouter(t)

	w := postChat(t, r, `{"message": "levitate: desk"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "capability")
	assert.NotContains(t, w.Body.String(), "levitate", "internal detail must not leak")
}

func TestLearningProgressEndpoint(t *testing.T) {
	r := testRouter(t)

	// Teach something first so a counter moves.
	w := postChat(t, r, `{"message": "remember: rivers erode stone"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/visualization/learning_progress", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConceptsLearned    int       `json:"concepts_learned"`
		ResearchSessions   int       `json:"research_sessions"`
		CodeModulesCreated int       `json:"code_modules_created"`
		LastUpdated        time.Time `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ConceptsLearned)
	assert.False(t, resp.LastUpdated.IsZero())
}

func TestReasoningChainsEndpoint(t *testing.T) {
	r := testRouter(t)

	w := postChat(t, r, `{"message": "fact: socrates is_a human"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = postChat(t, r, `{"message": "what is socrates"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/visualization/reasoning_chains", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var chains map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chains))
	assert.NotEmpty(t, chains)
	for _, steps := range chains {
		assert.NotEmpty(t, steps)
	}
}
