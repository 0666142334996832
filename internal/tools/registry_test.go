package tools

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amonhq/amon/internal/tools/policy"
	"github.com/amonhq/amon/internal/tools/workspace"
)

func testRegistry(t *testing.T, opts ...RegistryOption) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "tool_audit.jsonl")
	base := []RegistryOption{
		WithPolicy(&policy.Policy{Allow: []string{"**"}}),
		WithAudit(NewAuditSink(auditPath, slog.Default())),
	}
	return NewRegistry(append(base, opts...)...), auditPath
}

func echoHandler(ctx context.Context, call *Call) (*Result, error) {
	return TextResult("ok"), nil
}

func TestCall_UnknownTool(t *testing.T) {
	r, _ := testRegistry(t)
	res := r.Call(context.Background(), &Call{Tool: "nope.missing"}, false)
	if !res.IsError || res.Status() != "unknown_tool" {
		t.Fatalf("got %+v", res)
	}
}

func TestCall_PolicyDeny(t *testing.T) {
	r, auditPath := testRegistry(t, WithPolicy(&policy.Policy{
		Deny:  []string{"filesystem.delete"},
		Allow: []string{"filesystem.*"},
	}))
	r.Register(Spec{Name: "filesystem.delete"}, echoHandler)

	res := r.Call(context.Background(), &Call{
		Tool: "filesystem.delete",
		Args: map[string]any{"path": "top-secret-location.txt"},
	}, false)
	if !res.IsError || res.Status() != "denied" {
		t.Fatalf("got %+v", res)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"decision":"deny"`) {
		t.Errorf("missing deny decision: %s", line)
	}
	if strings.Contains(line, "top-secret-location") {
		t.Errorf("raw args leaked into audit: %s", line)
	}
}

func TestCall_AskTier(t *testing.T) {
	r, _ := testRegistry(t, WithPolicy(&policy.Policy{Ask: []string{"process.*"}}))
	r.Register(Spec{Name: "process.spawn"}, echoHandler)

	res := r.Call(context.Background(), &Call{Tool: "process.spawn"}, true)
	if res.Status() != "approval_required" {
		t.Errorf("with approval channel: %q", res.Status())
	}
	res = r.Call(context.Background(), &Call{Tool: "process.spawn"}, false)
	if res.Status() != "approval_missing" {
		t.Errorf("without approval channel: %q", res.Status())
	}
}

func TestCall_NoPolicyDeniesEverything(t *testing.T) {
	r := NewRegistry()
	r.Register(Spec{Name: "echo"}, echoHandler)
	res := r.Call(context.Background(), &Call{Tool: "echo"}, false)
	if res.Status() != "denied" {
		t.Errorf("got %q", res.Status())
	}
}

func TestCall_SchemaValidation(t *testing.T) {
	r, _ := testRegistry(t)
	r.Register(Spec{
		Name: "notes.add",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"title"},
		},
	}, echoHandler)

	res := r.Call(context.Background(), &Call{Tool: "notes.add", Args: map[string]any{"count": 3}}, false)
	if res.Status() != "invalid_arguments" {
		t.Errorf("missing required field: %q", res.Status())
	}

	res = r.Call(context.Background(), &Call{
		Tool: "notes.add",
		Args: map[string]any{"title": "hi", "count": 3, "extra": true},
	}, false)
	if res.IsError {
		t.Errorf("unknown fields should be ignored: %+v", res)
	}
}

func TestCall_WorkspaceGuard(t *testing.T) {
	root := t.TempDir()
	r, _ := testRegistry(t, WithGuard(workspace.NewGuard(root)))

	var gotPath string
	r.Register(Spec{Name: "filesystem.read"}, func(ctx context.Context, call *Call) (*Result, error) {
		gotPath, _ = call.Args["path"].(string)
		return TextResult("data"), nil
	})

	res := r.Call(context.Background(), &Call{
		Tool: "filesystem.read",
		Args: map[string]any{"path": "../etc/passwd"},
	}, false)
	if res.Status() != "workspace_violation" {
		t.Fatalf("traversal: %q", res.Status())
	}

	res = r.Call(context.Background(), &Call{
		Tool: "filesystem.read",
		Args: map[string]any{"path": "docs/a.txt"},
	}, false)
	if res.IsError {
		t.Fatalf("in-root call failed: %+v", res)
	}
	if !strings.HasPrefix(gotPath, root) {
		t.Errorf("handler saw unresolved path %q", gotPath)
	}
}

func TestCall_HandlerPanicRecovered(t *testing.T) {
	r, _ := testRegistry(t)
	r.Register(Spec{Name: "boom"}, func(ctx context.Context, call *Call) (*Result, error) {
		panic("kaboom")
	})
	res := r.Call(context.Background(), &Call{Tool: "boom"}, false)
	if !res.IsError || res.Status() != "execution_failed" {
		t.Fatalf("got %+v", res)
	}
}

func TestCall_HandlerErrorBecomesResult(t *testing.T) {
	r, _ := testRegistry(t)
	r.Register(Spec{Name: "flaky"}, func(ctx context.Context, call *Call) (*Result, error) {
		return nil, os.ErrDeadlineExceeded
	})
	res := r.Call(context.Background(), &Call{Tool: "flaky"}, false)
	if !res.IsError {
		t.Fatalf("expected error result, got %+v", res)
	}
}

func TestRegister_ReplacesAndInvalidatesSchema(t *testing.T) {
	r, _ := testRegistry(t)
	strict := map[string]any{
		"type":     "object",
		"required": []any{"must"},
	}
	r.Register(Spec{Name: "x", InputSchema: strict}, echoHandler)
	if res := r.Call(context.Background(), &Call{Tool: "x"}, false); res.Status() != "invalid_arguments" {
		t.Fatalf("strict schema not enforced: %q", res.Status())
	}
	r.Register(Spec{Name: "x"}, echoHandler)
	if res := r.Call(context.Background(), &Call{Tool: "x"}, false); res.IsError {
		t.Fatalf("stale schema after re-register: %+v", res)
	}
}
