package hooks

import (
	"os"
	"sync"
	"time"

	"github.com/amonhq/amon/internal/store"
)

// HookState is the durable per-hook counter record.
type HookState struct {
	Inflight        int                  `json:"inflight"`
	LastTriggeredAt *time.Time           `json:"last_triggered_at,omitempty"`
	Dedupe          map[string]time.Time `json:"dedupe,omitempty"`
}

type stateFile struct {
	Hooks map[string]*HookState `json:"hooks"`
}

// StateStore owns <hooks>/state.json. All access goes through one mutex;
// every mutation rewrites the file atomically. Cross-process access is not
// supported.
type StateStore struct {
	path string

	mu    sync.Mutex
	state stateFile
}

// NewStateStore loads (or initializes) the state file at path.
func NewStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path, state: stateFile{Hooks: make(map[string]*HookState)}}
	if err := store.ReadJSON(path, &s.state); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if s.state.Hooks == nil {
		s.state.Hooks = make(map[string]*HookState)
	}
	return s, nil
}

// Get returns a copy of the state for a hook. Unknown hooks yield a zero
// record.
func (s *StateStore) Get(hookID string) HookState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.Hooks[hookID]; ok {
		out := *st
		if st.Dedupe != nil {
			out.Dedupe = make(map[string]time.Time, len(st.Dedupe))
			for k, v := range st.Dedupe {
				out.Dedupe[k] = v
			}
		}
		return out
	}
	return HookState{}
}

// MarkTriggered records a firing: increments inflight, stamps
// last_triggered_at, and records the dedupe key when set.
func (s *StateStore) MarkTriggered(hookID, dedupeKey string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(hookID)
	st.Inflight++
	ts := now
	st.LastTriggeredAt = &ts
	if dedupeKey != "" {
		if st.Dedupe == nil {
			st.Dedupe = make(map[string]time.Time)
		}
		st.Dedupe[dedupeKey] = now
	}
	return s.persist()
}

// Release decrements inflight after an action completes or fails. The
// counter never goes below zero.
func (s *StateStore) Release(hookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(hookID)
	if st.Inflight > 0 {
		st.Inflight--
	}
	return s.persist()
}

// ResetInflight zeroes every inflight counter. Called at daemon startup:
// a crash mid-action would otherwise leak the counter forever.
func (s *StateStore) ResetInflight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, st := range s.state.Hooks {
		if st.Inflight != 0 {
			st.Inflight = 0
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

func (s *StateStore) ensure(hookID string) *HookState {
	st, ok := s.state.Hooks[hookID]
	if !ok {
		st = &HookState{}
		s.state.Hooks[hookID] = st
	}
	return st
}

func (s *StateStore) persist() error {
	return store.WriteJSONAtomic(s.path, s.state)
}
