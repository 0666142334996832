package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/tools/policy"
)

// AuditRecord is one redacted line in the tool audit log. Arguments and
// results appear only as SHA-256 digests; raw payloads are never written.
type AuditRecord struct {
	TS           string          `json:"ts"`
	Tool         string          `json:"tool"`
	Caller       string          `json:"caller,omitempty"`
	ProjectID    string          `json:"project_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Decision     policy.Decision `json:"decision"`
	IsError      bool            `json:"is_error"`
	Status       string          `json:"status,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Source       Source          `json:"source"`
	ArgsSHA256   string          `json:"args_sha256,omitempty"`
	ResultSHA256 string          `json:"result_sha256,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
}

// AuditSink appends redacted tool audit records to a JSONL file. Write
// failures are logged and swallowed so auditing never blocks a call.
type AuditSink struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditSink creates a sink writing to path.
func NewAuditSink(path string, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditSink{
		path:   path,
		logger: logger.With("component", "tool_audit"),
		now:    time.Now,
	}
}

// Record writes one audit line for a finished (or refused) call.
func (s *AuditSink) Record(ctx context.Context, call *Call, decision policy.Decision, result *Result, source Source, duration time.Duration) {
	rec := AuditRecord{
		TS:         s.now().UTC().Format(time.RFC3339Nano),
		Tool:       call.Tool,
		Caller:     call.Caller,
		ProjectID:  call.ProjectID,
		SessionID:  call.SessionID,
		Decision:   decision,
		DurationMS: duration.Milliseconds(),
		Source:     source,
		ArgsSHA256: hashJSON(call.Args),
		TraceID:    observability.GetTraceID(ctx),
	}
	if result != nil {
		rec.IsError = result.IsError
		rec.Status = result.Status()
		rec.ResultSHA256 = hashJSON(result.Content)
	}
	if err := store.AppendJSONL(s.path, rec); err != nil {
		s.logger.Error("audit write failed", "error", err, "tool", call.Tool)
	}
}

// hashJSON digests the canonical JSON encoding of v. Returns "" for nil.
func hashJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
