// Package sandbox runs code through an external sandbox service over HTTP
// and exposes the sandbox.run builtin tool.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/tools"
)

const defaultRunTimeout = 60 * time.Second

// File is one transferred file, base64-encoded and addressed by a
// relative path inside the sandbox.
type File struct {
	Path       string `json:"path"`
	ContentB64 string `json:"content_b64"`
}

// RunRequest is the payload posted to the sandbox service.
type RunRequest struct {
	Language   string `json:"language"`
	Code       string `json:"code"`
	TimeoutS   int    `json:"timeout_s,omitempty"`
	InputFiles []File `json:"input_files,omitempty"`
}

// RunResult is the sandbox service response.
type RunResult struct {
	ExitCode    int    `json:"exit_code"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	DurationMS  int64  `json:"duration_ms"`
	TimedOut    bool   `json:"timed_out"`
	OutputFiles []File `json:"output_files,omitempty"`
}

// Client talks to a sandbox service exposing POST /run.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRunTimeout + 10*time.Second},
	}
}

// Run executes code in the sandbox and returns its captured output. Input
// and output file paths must be relative and traversal-free.
func (c *Client) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, errs.New(errs.KindInvalidArguments, "code is required")
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, errs.New(errs.KindInvalidArguments, "language is required")
	}
	for _, f := range req.InputFiles {
		if err := store.ValidateRelativePath(f.Path); err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "input file %q", f.Path)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArguments, err, "encode run request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutionFailed, err, "build run request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, err, "sandbox run")
		}
		return nil, errs.Wrap(errs.KindExecutionFailed, err, "sandbox run")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutionFailed, err, "read sandbox response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindExecutionFailed, "sandbox returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errs.Wrap(errs.KindExecutionFailed, err, "decode sandbox response")
	}
	// Never trust paths chosen by sandboxed code.
	for _, f := range result.OutputFiles {
		if err := store.ValidateRelativePath(f.Path); err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "output file %q", f.Path)
		}
	}
	return &result, nil
}

// Register adds the sandbox.run builtin tool backed by the client.
func Register(r *tools.Registry, client *Client) {
	r.Register(tools.Spec{
		Name:        "sandbox.run",
		Description: "Run code in the external sandbox and capture its output.",
		Source:      tools.SourceBuiltin,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language":    map[string]any{"type": "string"},
				"code":        map[string]any{"type": "string"},
				"timeout_s":   map[string]any{"type": "integer"},
				"input_files": map[string]any{"type": "array"},
			},
			"required": []any{"language", "code"},
		},
	}, func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		req := RunRequest{}
		req.Language, _ = call.Args["language"].(string)
		req.Code, _ = call.Args["code"].(string)
		if ts, ok := call.Args["timeout_s"].(float64); ok && ts > 0 {
			req.TimeoutS = int(ts)
		}
		if raw, ok := call.Args["input_files"].([]any); ok {
			for _, item := range raw {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				f := File{}
				f.Path, _ = entry["path"].(string)
				f.ContentB64, _ = entry["content_b64"].(string)
				req.InputFiles = append(req.InputFiles, f)
			}
		}

		result, err := client.Run(ctx, req)
		if err != nil {
			return tools.ErrorResult(string(errs.KindOf(err)), err.Error()), nil
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return tools.ErrorResult("execution_failed", fmt.Sprintf("encode result: %v", err)), nil
		}
		res := tools.TextResult(string(payload))
		res.Meta["exit_code"] = result.ExitCode
		switch {
		case result.TimedOut:
			res.IsError = true
			res.Meta["status"] = "timeout"
		case result.ExitCode != 0:
			res.IsError = true
			res.Meta["status"] = "execution_failed"
		}
		return res, nil
	})
}
