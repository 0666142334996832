package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/llm"
	"github.com/amonhq/amon/internal/taskgraph"
)

// Producer performs one model call over the given messages and returns
// the raw text. The executor owns retry and extraction; transport,
// cancellation, and filesystem stay with the caller.
type Producer func(ctx context.Context, messages []llm.Message) (string, error)

// Executor drives node-level retry, backoff, repair-prompt injection,
// and call-rate limiting.
type Executor struct {
	minCallInterval time.Duration
	sleep           func(time.Duration)
	warn            func(format string, args ...any)

	mu       sync.Mutex
	lastCall time.Time
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithMinCallInterval enforces a minimum spacing between model calls.
func WithMinCallInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.minCallInterval = d }
}

// WithSleep overrides the backoff sleeper, for tests.
func WithSleep(sleep func(time.Duration)) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithWarn sets the sink for non-fatal warnings such as numeric
// anomalies in parsed payloads.
func WithWarn(warn func(format string, args ...any)) ExecutorOption {
	return func(e *Executor) { e.warn = warn }
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		sleep: time.Sleep,
		warn:  func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the producer with retry. Extraction and validation
// failures sleep the configured backoff and retry with an appended
// repair message; other errors fail immediately. onRetry, when non-nil,
// observes each retried attempt before the next call. Returns the final
// raw text and extracted value.
func (e *Executor) Execute(ctx context.Context, producer Producer, base []llm.Message, output *taskgraph.Output, retry *taskgraph.Retry, onRetry func(attempt int, cause error)) (string, any, error) {
	maxAttempts := 1
	backoff := time.Duration(0)
	if retry != nil {
		if retry.MaxAttempts > 0 {
			maxAttempts = retry.MaxAttempts
		}
		backoff = time.Duration(retry.BackoffS * float64(time.Second))
	}

	messages := append([]llm.Message(nil), base...)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", nil, errs.Wrap(errs.KindCanceled, err, "node execution")
		}
		e.throttle()

		raw, err := producer(ctx, messages)
		if err != nil {
			return "", nil, err
		}

		value, err := ExtractOutput(raw, output)
		if err == nil {
			for _, anomaly := range NumericAnomalies(value) {
				e.warn("numeric anomaly in output: %s", anomaly)
			}
			return raw, value, nil
		}
		if !errs.Retryable(err) {
			return raw, nil, err
		}

		lastErr = err
		if attempt < maxAttempts {
			if onRetry != nil {
				onRetry(attempt, err)
			}
			if backoff > 0 {
				e.sleep(backoff)
			}
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("[repair_error]\n%s", err.Error()),
			})
		}
	}
	// Exhausted attempts are terminal: reclassify so callers do not see a
	// retryable kind on an error that will never be retried again.
	return "", nil, errs.Wrap(errs.KindExecutionFailed, lastErr, "retries exhausted after %d attempts", maxAttempts)
}

// throttle blocks until the minimum call interval has elapsed since the
// previous call, using a monotonic clock.
func (e *Executor) throttle() {
	if e.minCallInterval <= 0 {
		return
	}
	e.mu.Lock()
	wait := e.minCallInterval - time.Since(e.lastCall)
	if !e.lastCall.IsZero() && wait > 0 {
		e.mu.Unlock()
		e.sleep(wait)
		e.mu.Lock()
	}
	e.lastCall = time.Now()
	e.mu.Unlock()
}
