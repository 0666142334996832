package jobs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/store"
)

const (
	defaultWatchInterval = 2 * time.Second
	stopTimeout          = 5 * time.Second
)

// fileStat is one snapshot entry.
type fileStat struct {
	mtime time.Time
	size  int64
}

// Heartbeat is the durable liveness record a job rewrites on every
// interval.
type Heartbeat struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	LastHeartbeatTS string `json:"last_heartbeat_ts"`
	LastError       string `json:"last_error,omitempty"`
}

// Job is one running resident producer.
type Job struct {
	desc          *Descriptor
	emitter       *events.Log
	logger        *slog.Logger
	heartbeatPath string
	now           func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	wake     chan struct{}
	notifier *fsnotify.Watcher

	mu        sync.Mutex
	snapshot  map[string]fileStat
	lastEmit  map[string]time.Time
	lastError string
}

// Start launches the job's goroutines: filesystem watcher, polling
// producer, and heartbeat writer, each only when configured. stateDir
// holds the per-job heartbeat file <job_id>.json.
func Start(desc *Descriptor, emitter *events.Log, stateDir string, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		desc:          desc,
		emitter:       emitter,
		logger:        logger.With("component", "job", "job_id", desc.JobID),
		heartbeatPath: filepath.Join(stateDir, desc.JobID+".json"),
		now:           time.Now,
		cancel:        cancel,
		wake:          make(chan struct{}, 1),
		snapshot:      make(map[string]fileStat),
		lastEmit:      make(map[string]time.Time),
	}

	if len(desc.WatchPaths) > 0 {
		j.startNotifier()
		j.snapshot = j.scan()
		j.wg.Add(1)
		go j.watchLoop(ctx)
	}
	if desc.PollingIntervalSeconds > 0 {
		j.wg.Add(1)
		go j.pollLoop(ctx)
	}
	j.wg.Add(1)
	go j.heartbeatLoop(ctx)

	return j
}

// Stop signals shutdown, joins with a timeout, and persists a final
// stopped heartbeat.
func (j *Job) Stop() {
	j.cancel()
	if j.notifier != nil {
		_ = j.notifier.Close()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		j.logger.Warn("job goroutines did not stop before timeout")
	}
	j.writeHeartbeat("stopped")
}

// startNotifier wires fsnotify wake-ups so filesystem changes trigger an
// immediate rescan instead of waiting out the poll interval. Failure
// degrades to interval-only scanning.
func (j *Job) startNotifier() {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		j.logger.Warn("fsnotify unavailable, polling only", "error", err)
		return
	}
	for _, path := range j.desc.WatchPaths {
		if err := notifier.Add(path); err != nil {
			j.logger.Warn("watch add failed", "path", path, "error", err)
		}
	}
	j.notifier = notifier

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case _, ok := <-notifier.Events:
				if !ok {
					return
				}
				select {
				case j.wake <- struct{}{}:
				default:
				}
			case _, ok := <-notifier.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (j *Job) watchInterval() time.Duration {
	if j.desc.WatchIntervalSeconds > 0 {
		return time.Duration(j.desc.WatchIntervalSeconds * float64(time.Second))
	}
	return defaultWatchInterval
}

func (j *Job) watchLoop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.watchInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.wake:
		}
		j.diffAndEmit(ctx)
	}
}

// diffAndEmit compares a fresh snapshot against the previous one and
// emits doc.created, doc.updated, and doc.deleted events.
func (j *Job) diffAndEmit(ctx context.Context) {
	current := j.scan()

	j.mu.Lock()
	previous := j.snapshot
	j.snapshot = current
	j.mu.Unlock()

	for path, stat := range current {
		prev, existed := previous[path]
		switch {
		case !existed:
			j.emitDoc(ctx, "doc.created", path, stat)
		case prev.mtime != stat.mtime || prev.size != stat.size:
			j.emitDoc(ctx, "doc.updated", path, stat)
		}
	}
	for path, stat := range previous {
		if _, exists := current[path]; !exists {
			j.emitDoc(ctx, "doc.deleted", path, stat)
		}
	}
}

// scan walks every watch path collecting (mtime, size) per regular file.
func (j *Job) scan() map[string]fileStat {
	result := make(map[string]fileStat)
	for _, root := range j.desc.WatchPaths {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			result[root] = fileStat{mtime: info.ModTime(), size: info.Size()}
			continue
		}
		_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil
			}
			fi, err := entry.Info()
			if err != nil {
				return nil
			}
			result[path] = fileStat{mtime: fi.ModTime(), size: fi.Size()}
			return nil
		})
	}
	return result
}

// emitDoc emits one document event unless the per-(path,type) debounce
// window is still open.
func (j *Job) emitDoc(ctx context.Context, eventType, path string, stat fileStat) {
	if j.desc.DebounceSeconds > 0 {
		key := path + "|" + eventType
		window := time.Duration(j.desc.DebounceSeconds * float64(time.Second))
		j.mu.Lock()
		last, seen := j.lastEmit[key]
		now := j.now()
		if seen && now.Sub(last) < window {
			j.mu.Unlock()
			return
		}
		j.lastEmit[key] = now
		j.mu.Unlock()
	}

	j.emitter.Emit(ctx, &events.Event{
		Type:      eventType,
		Scope:     events.ScopeJob,
		Actor:     "job:" + j.desc.JobID,
		ProjectID: j.desc.ProjectID,
		Payload: map[string]any{
			"path":  path,
			"size":  stat.size,
			"mtime": stat.mtime.UTC().Format(time.RFC3339Nano),
		},
	}, false)
}

func (j *Job) pollLoop(ctx context.Context) {
	defer j.wg.Done()
	interval := time.Duration(j.desc.PollingIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.emitter.Emit(ctx, &events.Event{
				Type:      j.desc.PollingEventType,
				Scope:     events.ScopeJob,
				Actor:     "job:" + j.desc.JobID,
				ProjectID: j.desc.ProjectID,
				Payload:   map[string]any{"job_id": j.desc.JobID},
			}, false)
		}
	}
}

func (j *Job) heartbeatLoop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.watchInterval())
	defer ticker.Stop()
	j.writeHeartbeat("running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.writeHeartbeat("running")
		}
	}
}

func (j *Job) writeHeartbeat(status string) {
	j.mu.Lock()
	lastError := j.lastError
	j.mu.Unlock()

	hb := Heartbeat{
		JobID:           j.desc.JobID,
		Status:          status,
		LastHeartbeatTS: j.now().UTC().Format(time.RFC3339Nano),
		LastError:       lastError,
	}
	if err := store.WriteJSONAtomic(j.heartbeatPath, hb); err != nil {
		j.logger.Warn("heartbeat write failed", "error", err)
		j.mu.Lock()
		j.lastError = err.Error()
		j.mu.Unlock()
	}
}
