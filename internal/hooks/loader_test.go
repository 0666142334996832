package hooks

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeHookFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "on-file.yaml", `
event_types: [file.created]
filter:
  path_glob: "**/*.txt"
  min_size: 5
action:
  type: tool.call
  tool: filesystem.read
  args:
    path: "{{ event.payload.path }}"
cooldown_seconds: 300
max_concurrency: 2
`)
	writeHookFile(t, dir, "broken.yaml", "event_types: [\nnot yaml")
	writeHookFile(t, dir, "missing-tool.yaml", `
event_types: [file.created]
action:
  type: tool.call
`)
	writeHookFile(t, dir, "readme.txt", "not a hook")

	hooks := LoadDir(dir, slog.Default())
	if len(hooks) != 1 {
		t.Fatalf("expected 1 valid hook, got %d", len(hooks))
	}
	hook := hooks[0]
	if hook.HookID != "on-file" {
		t.Errorf("hook_id from file stem: got %q", hook.HookID)
	}
	if hook.CooldownSeconds != 300 || hook.MaxConcurrency != 2 {
		t.Errorf("unexpected knobs: %+v", hook)
	}
	if hook.Filter == nil || hook.Filter.MinSize == nil || *hook.Filter.MinSize != 5 {
		t.Errorf("filter not parsed: %+v", hook.Filter)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	hooks := LoadDir(filepath.Join(t.TempDir(), "absent"), slog.Default())
	if len(hooks) != 0 {
		t.Errorf("expected empty set, got %d", len(hooks))
	}
}

func TestHookValidate(t *testing.T) {
	tests := []struct {
		name string
		hook Hook
		ok   bool
	}{
		{"graph.run ok", Hook{EventTypes: []string{"a"}, Action: Action{Type: ActionGraphRun}}, true},
		{"no event types", Hook{Action: Action{Type: ActionGraphRun}}, false},
		{"tool.call without tool", Hook{EventTypes: []string{"a"}, Action: Action{Type: ActionToolCall}}, false},
		{"bad action type", Hook{EventTypes: []string{"a"}, Action: Action{Type: "nope"}}, false},
		{"negative cooldown", Hook{EventTypes: []string{"a"}, Action: Action{Type: ActionGraphRun}, CooldownSeconds: -1}, false},
		{"bad dedupe template", Hook{EventTypes: []string{"a"}, Action: Action{Type: ActionGraphRun}, DedupeKey: "{{ oops"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hook.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}
