package narration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/lib/navigation"
)

func testGuidance() navigation.Guidance {
	return navigation.Guidance{
		Phase:          navigation.PhaseInsideBoundary,
		Instruction:    navigation.InstructionInside,
		DistanceMeters: 132,
		Direction:      "northeast",
		PathName:       "Main Avenue",
		TargetName:     "Ayşe Yılmaz",
		TargetLabel:    "Block C, Phase 2, Apt 114",
		CemeteryName:   "Zincirlikuyu",
	}
}

// chatServer answers chat completions with content and records request bodies
func chatServer(t *testing.T, content string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var bodies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1777626000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server, &bodies
}

func newTestNarrator(server *httptest.Server) Narrator {
	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	return NewOpenAINarratorWithConfig(config, "gpt-4o-mini")
}

func TestOpenAINarrator_Narrate(t *testing.T) {
	server, bodies := chatServer(t, `{"narration": "Walk about 130 meters northeast along Main Avenue."}`)
	narrator := newTestNarrator(server)

	text, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	require.NoError(t, err)
	assert.Equal(t, "Walk about 130 meters northeast along Main Avenue.", text)

	require.Len(t, *bodies, 1)
	assert.Contains(t, (*bodies)[0], "json_object")
	assert.Contains(t, (*bodies)[0], "Main Avenue")
}

func TestOpenAINarrator_EmptyNarrationFallsBack(t *testing.T) {
	server, _ := chatServer(t, `{"narration": "  "}`)
	narrator := newTestNarrator(server)

	text, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	require.NoError(t, err)
	assert.Equal(t, navigation.InstructionInside, text)
}

func TestOpenAINarrator_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("ağaç ", 60)
	server, _ := chatServer(t, `{"narration": "`+long+`"}`)
	narrator := newTestNarrator(server)

	text, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	require.NoError(t, err)
	assert.Equal(t, MaxNarrationLength, len([]rune(text)))
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestOpenAINarrator_InvalidJSON(t *testing.T) {
	server, _ := chatServer(t, `not json`)
	narrator := newTestNarrator(server)

	_, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OpenAI JSON response")
}

func TestOpenAINarrator_NoAPIKey(t *testing.T) {
	narrator := NewOpenAINarrator("", "gpt-4o-mini")

	_, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	assert.Error(t, err)
	assert.Error(t, narrator.HealthCheck(logging.EnsureLogger(t.Context())))
}

type fakeNarrator struct {
	calls int
	text  string
	err   error
}

func (f *fakeNarrator) Narrate(context.Context, navigation.Guidance) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeNarrator) HealthCheck(context.Context) error { return f.err }

type memoryStore struct {
	entries map[string]string
}

func (m *memoryStore) GetNarration(hash string) (string, bool, error) {
	text, ok := m.entries[hash]
	return text, ok, nil
}

func (m *memoryStore) SetNarration(hash, text string, _ time.Duration) error {
	m.entries[hash] = text
	return nil
}

func TestCachedNarrator_DeduplicatesByContent(t *testing.T) {
	inner := &fakeNarrator{text: "Keep to Main Avenue."}
	store := &memoryStore{entries: map[string]string{}}
	narrator := NewCachedNarrator(inner, store, 0)

	g := testGuidance()
	text, err := narrator.Narrate(logging.EnsureLogger(t.Context()), g)
	require.NoError(t, err)
	assert.Equal(t, "Keep to Main Avenue.", text)
	assert.Len(t, store.entries, 1)

	// Same 25m band
	g.DistanceMeters = 140
	_, err = narrator.Narrate(logging.EnsureLogger(t.Context()), g)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// Next band
	g.DistanceMeters = 151
	_, err = narrator.Narrate(logging.EnsureLogger(t.Context()), g)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedNarrator_ErrorsAreNotCached(t *testing.T) {
	inner := &fakeNarrator{err: errors.New("quota exceeded")}
	store := &memoryStore{entries: map[string]string{}}
	narrator := NewCachedNarrator(inner, store, time.Hour)

	_, err := narrator.Narrate(logging.EnsureLogger(t.Context()), testGuidance())
	assert.Error(t, err)
	assert.Empty(t, store.entries)
	assert.Error(t, narrator.HealthCheck(logging.EnsureLogger(t.Context())))
}

func TestContentHasher_HashGuidance(t *testing.T) {
	h := NewContentHasher()

	a := testGuidance()
	b := testGuidance()
	b.PathName = "  main   AVENUE "
	assert.Equal(t, h.HashGuidance(a), h.HashGuidance(b), "normalized text")

	c := testGuidance()
	c.Phase = navigation.PhaseNearTarget
	assert.NotEqual(t, h.HashGuidance(a), h.HashGuidance(c))

	assert.Len(t, h.HashGuidance(a), 64)
}
