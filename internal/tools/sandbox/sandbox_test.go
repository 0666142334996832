package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amonhq/amon/internal/tools"
	"github.com/amonhq/amon/internal/tools/policy"
)

func newSandboxServer(t *testing.T, handler func(RunRequest) (RunResult, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, status := handler(req)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRun(t *testing.T) {
	srv := newSandboxServer(t, func(req RunRequest) (RunResult, int) {
		if req.Language != "python" || req.Code != "print('hi')" {
			t.Errorf("request: %+v", req)
		}
		return RunResult{Stdout: "hi\n", DurationMS: 12}, http.StatusOK
	})

	result, err := NewClient(srv.URL).Run(context.Background(), RunRequest{
		Language: "python",
		Code:     "print('hi')",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Stdout != "hi\n" || result.ExitCode != 0 {
		t.Errorf("got %+v", result)
	}
}

func TestClientRun_MissingFields(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if _, err := client.Run(context.Background(), RunRequest{Language: "python"}); err == nil {
		t.Error("empty code accepted")
	}
	if _, err := client.Run(context.Background(), RunRequest{Code: "1+1"}); err == nil {
		t.Error("empty language accepted")
	}
}

func TestClientRun_RejectsTraversalPaths(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Run(context.Background(), RunRequest{
		Language:   "python",
		Code:       "pass",
		InputFiles: []File{{Path: "../escape.txt", ContentB64: "aGk="}},
	})
	if err == nil {
		t.Fatal("traversal input path accepted")
	}

	srv := newSandboxServer(t, func(RunRequest) (RunResult, int) {
		return RunResult{OutputFiles: []File{{Path: "/etc/passwd", ContentB64: ""}}}, http.StatusOK
	})
	if _, err := NewClient(srv.URL).Run(context.Background(), RunRequest{Language: "python", Code: "pass"}); err == nil {
		t.Fatal("absolute output path accepted")
	}
}

func TestClientRun_ServerError(t *testing.T) {
	srv := newSandboxServer(t, func(RunRequest) (RunResult, int) {
		return RunResult{}, http.StatusInternalServerError
	})
	if _, err := NewClient(srv.URL).Run(context.Background(), RunRequest{Language: "python", Code: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTool_NonZeroExitIsError(t *testing.T) {
	srv := newSandboxServer(t, func(RunRequest) (RunResult, int) {
		return RunResult{Stderr: "boom", ExitCode: 2}, http.StatusOK
	})

	r := tools.NewRegistry(tools.WithPolicy(&policy.Policy{Allow: []string{"sandbox.*"}}))
	Register(r, NewClient(srv.URL))

	res := r.Call(context.Background(), &tools.Call{
		Tool: "sandbox.run",
		Args: map[string]any{"language": "sh", "code": "exit 2"},
	}, false)
	if !res.IsError {
		t.Fatalf("expected error result: %+v", res)
	}
	if !strings.Contains(res.Text(), "boom") {
		t.Errorf("stderr missing: %s", res.Text())
	}
}

func TestTool_TimedOutIsError(t *testing.T) {
	srv := newSandboxServer(t, func(RunRequest) (RunResult, int) {
		return RunResult{TimedOut: true, DurationMS: 30000}, http.StatusOK
	})

	r := tools.NewRegistry(tools.WithPolicy(&policy.Policy{Allow: []string{"sandbox.*"}}))
	Register(r, NewClient(srv.URL))

	res := r.Call(context.Background(), &tools.Call{
		Tool: "sandbox.run",
		Args: map[string]any{"language": "python", "code": "while True: pass"},
	}, false)
	if !res.IsError || res.Meta["status"] != "timeout" {
		t.Fatalf("expected timeout result: %+v", res)
	}
}
