package runtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/grammarfile"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReadyRequiresStartedComponents(t *testing.T) {
	t.Parallel()

	r := New(config.Config{}, newLogger())
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestGrammarStatus(t *testing.T) {
	t.Parallel()

	f, err := grammarfile.Parse([]byte("grammar: greet\nrules:\n  - {name: hello, spec: hello there}\n  - {name: bye, spec: goodbye}\n"))
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)

	r := New(config.Config{}, newLogger())
	r.engine = engine.New()
	require.NoError(t, r.engine.Register(g))

	rec := httptest.NewRecorder()
	r.handleGrammars(rec, httptest.NewRequest(http.MethodGet, "/grammars", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []grammarStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "greet", out[0].Name)
	require.Equal(t, string(grammar.StateLoaded), out[0].State)
	require.NotEmpty(t, out[0].Fingerprint)
	require.ElementsMatch(t, []string{"hello", "bye"}, out[0].ActiveRules)
}

func TestWindowSourceFromConfig(t *testing.T) {
	t.Parallel()

	r := New(config.Config{Engine: config.EngineConfig{WindowSource: "hyprland", HyprctlCommand: "hyprctl"}}, newLogger())
	require.Equal(t, engine.HyprlandWindow{Command: "hyprctl"}, r.windowSource())

	r = New(config.Config{Engine: config.EngineConfig{Executable: "code", Title: "main.go"}}, newLogger())
	require.Equal(t, engine.StaticWindow{Executable: "code", Title: "main.go"}, r.windowSource())
}
