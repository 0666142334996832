package hooks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/amonhq/amon/internal/events"
)

func newTestState(t *testing.T) *StateStore {
	t.Helper()
	state, err := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	return state
}

func fileHook() *Hook {
	minSize := 5.0
	return &Hook{
		HookID:     "on-file",
		EventTypes: []string{"file.created"},
		Filter: &Filter{
			PathGlob: "**/*.txt",
			MinSize:  &minSize,
			MIME:     "text/plain",
		},
		Action: Action{Type: ActionToolCall, Tool: "filesystem.read"},
	}
}

func fileEvent(path string, size any, mime string) *events.Event {
	e := events.New("file.created", events.ScopeProject, map[string]any{
		"path": path, "size": size, "mime": mime,
	})
	e.EventID = "ev-1"
	return e
}

func TestMatchHooks_AllFiltersPass(t *testing.T) {
	state := newTestState(t)
	matches := MatchHooks([]*Hook{fileHook()}, fileEvent("docs/readme.txt", 12.0, "text/plain"), time.Now(), state)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestMatchHooks_FilterFailures(t *testing.T) {
	state := newTestState(t)
	now := time.Now()
	hook := fileHook()

	tests := []struct {
		name  string
		event *events.Event
	}{
		{"wrong type", func() *events.Event {
			e := fileEvent("docs/readme.txt", 12.0, "text/plain")
			e.Type = "file.deleted"
			return e
		}()},
		{"glob miss", fileEvent("docs/readme.md", 12.0, "text/plain")},
		{"too small", fileEvent("docs/readme.txt", 3.0, "text/plain")},
		{"non-numeric size", fileEvent("docs/readme.txt", "huge", "text/plain")},
		{"mime miss", fileEvent("docs/readme.txt", 12.0, "application/text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m := MatchHooks([]*Hook{hook}, tt.event, now, state); len(m) != 0 {
				t.Errorf("expected no match")
			}
		})
	}
}

func TestMatchHooks_MIMEWildcard(t *testing.T) {
	state := newTestState(t)
	hook := &Hook{
		HookID:     "mime",
		EventTypes: []string{"file.created"},
		Filter:     &Filter{MIME: "text/*"},
		Action:     Action{Type: ActionToolCall, Tool: "t"},
	}

	ok := fileEvent("a", 1.0, "text/plain")
	if m := MatchHooks([]*Hook{hook}, ok, time.Now(), state); len(m) != 1 {
		t.Error("expected text/plain to match text/*")
	}
	miss := fileEvent("a", 1.0, "application/text")
	if m := MatchHooks([]*Hook{hook}, miss, time.Now(), state); len(m) != 0 {
		t.Error("expected application/text not to match text/*")
	}
}

func TestMatchHooks_IgnoreActors(t *testing.T) {
	state := newTestState(t)
	hook := &Hook{
		HookID:     "h",
		EventTypes: []string{"file.created"},
		Filter:     &Filter{IgnoreActors: []string{"watcher"}},
		Action:     Action{Type: ActionToolCall, Tool: "t"},
	}
	e := fileEvent("a", 1.0, "")
	e.Actor = "watcher"
	if m := MatchHooks([]*Hook{hook}, e, time.Now(), state); len(m) != 0 {
		t.Error("expected ignored actor not to match")
	}
}

func TestMatchHooks_MaxConcurrency(t *testing.T) {
	state := newTestState(t)
	hook := fileHook()
	hook.MaxConcurrency = 1

	now := time.Now()
	event := fileEvent("docs/readme.txt", 12.0, "text/plain")

	if m := MatchHooks([]*Hook{hook}, event, now, state); len(m) != 1 {
		t.Fatal("expected first match")
	}
	if err := state.MarkTriggered(hook.HookID, "", now); err != nil {
		t.Fatal(err)
	}
	if m := MatchHooks([]*Hook{hook}, event, now, state); len(m) != 0 {
		t.Error("expected inflight=1 to block max_concurrency=1")
	}
	if err := state.Release(hook.HookID); err != nil {
		t.Fatal(err)
	}
	if m := MatchHooks([]*Hook{hook}, event, now.Add(time.Second), state); len(m) != 1 {
		t.Error("expected match after release")
	}
}

func TestMatchHooks_Cooldown(t *testing.T) {
	state := newTestState(t)
	hook := fileHook()
	hook.CooldownSeconds = 300

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := fileEvent("docs/readme.txt", 12.0, "text/plain")

	if m := MatchHooks([]*Hook{hook}, event, base, state); len(m) != 1 {
		t.Fatal("expected first match")
	}
	if err := state.MarkTriggered(hook.HookID, "", base); err != nil {
		t.Fatal(err)
	}
	_ = state.Release(hook.HookID)

	if m := MatchHooks([]*Hook{hook}, event, base.Add(100*time.Second), state); len(m) != 0 {
		t.Error("expected cooldown to block at +100s")
	}
	if m := MatchHooks([]*Hook{hook}, event, base.Add(301*time.Second), state); len(m) != 1 {
		t.Error("expected match after cooldown")
	}
}

func TestMatchHooks_DedupeWithCooldown(t *testing.T) {
	state := newTestState(t)
	hook := fileHook()
	hook.DedupeKey = "{{ event.payload.path }}"
	hook.CooldownSeconds = 300

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := fileEvent("docs/readme.txt", 12.0, "text/plain")

	matches := MatchHooks([]*Hook{hook}, event, base, state)
	if len(matches) != 1 {
		t.Fatal("expected first match")
	}
	if matches[0].DedupeKey != "docs/readme.txt" {
		t.Errorf("rendered dedupe key: %q", matches[0].DedupeKey)
	}
	if err := state.MarkTriggered(hook.HookID, matches[0].DedupeKey, base); err != nil {
		t.Fatal(err)
	}
	_ = state.Release(hook.HookID)

	// Identical event 100s later collapses on the dedupe key.
	if m := MatchHooks([]*Hook{hook}, event, base.Add(100*time.Second), state); len(m) != 0 {
		t.Error("expected dedupe to block within cooldown")
	}

	// A different path renders a fresh key but the hook-level cooldown
	// still applies.
	other := fileEvent("docs/other.txt", 12.0, "text/plain")
	if m := MatchHooks([]*Hook{hook}, other, base.Add(100*time.Second), state); len(m) != 0 {
		t.Error("expected hook cooldown to block other key too")
	}
	if m := MatchHooks([]*Hook{hook}, other, base.Add(301*time.Second), state); len(m) != 1 {
		t.Error("expected fresh key to match after cooldown")
	}
}

func TestMatchHooks_DedupeWithoutCooldownBlocksForever(t *testing.T) {
	state := newTestState(t)
	hook := fileHook()
	hook.DedupeKey = "{{ event.payload.path }}"

	base := time.Now()
	event := fileEvent("docs/readme.txt", 12.0, "text/plain")

	m := MatchHooks([]*Hook{hook}, event, base, state)
	if len(m) != 1 {
		t.Fatal("expected first match")
	}
	_ = state.MarkTriggered(hook.HookID, m[0].DedupeKey, base)
	_ = state.Release(hook.HookID)

	if m := MatchHooks([]*Hook{hook}, event, base.Add(24*time.Hour), state); len(m) != 0 {
		t.Error("expected presence alone to block without cooldown")
	}
}

func TestMatchHooks_DisabledHook(t *testing.T) {
	state := newTestState(t)
	hook := fileHook()
	disabled := false
	hook.Enabled = &disabled

	event := fileEvent("docs/readme.txt", 12.0, "text/plain")
	if m := MatchHooks([]*Hook{hook}, event, time.Now(), state); len(m) != 0 {
		t.Error("expected disabled hook not to match")
	}
}
