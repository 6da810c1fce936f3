package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/feedbackd/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
interview:
  assistant_name: BuildFast Bot
  events:
    - {id: ev-1, name: GenAI Summit, date: 2026-01-15T18:00:00Z}
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
interview:
  assistant_name: Feedback Buddy
  events:
    - {id: ev-1, name: GenAI Summit, date: 2026-01-15T18:00:00Z}
    - {id: ev-2, name: Agents Workshop, date: 2026-02-20T17:00:00Z}
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward so coarse
// filesystem timestamps still register a change.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if bump > 0 {
		ts := time.Now().Add(bump)
		if err := os.Chtimes(path, ts, ts); err != nil {
			t.Fatalf("chtimes %q: %v", path, err)
		}
	}
}

type reloadRecorder struct {
	mu    sync.Mutex
	calls []config.ConfigDiff
	fired chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 8)}
}

func (r *reloadRecorder) onChange(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *reloadRecorder) Calls() []config.ConfigDiff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.ConfigDiff(nil), r.calls...)
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)

	rec := newReloadRecorder()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Interview.AssistantName; got != "BuildFast Bot" {
		t.Fatalf("initial assistant_name = %q", got)
	}

	writeFile(t, path, watcherUpdatedYAML, 2*time.Second)
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback not invoked")
	}

	calls := rec.Calls()
	d := calls[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q, want debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ProfileChanged {
		t.Error("ProfileChanged = false, want true")
	}
	if len(d.EventsAdded) != 1 || d.EventsAdded[0] != "ev-2" {
		t.Errorf("EventsAdded = %v, want [ev-2]", d.EventsAdded)
	}
	if got := w.Current().Interview.AssistantName; got != "Feedback Buddy" {
		t.Errorf("Current() assistant_name = %q, want Feedback Buddy", got)
	}
}

func TestWatcher_IgnoresInvalidAndTouchOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid", content: watcherInvalidYAML},
		{name: "touch only", content: watcherValidYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, watcherValidYAML, 0)

			rec := newReloadRecorder()
			w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			writeFile(t, path, tt.content, 2*time.Second)
			time.Sleep(200 * time.Millisecond)
			w.Stop()

			if n := len(rec.Calls()); n != 0 {
				t.Errorf("got %d reloads, want 0", n)
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current() log_level = %q, want info", got)
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}
