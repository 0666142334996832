package hooks

import (
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/amonhq/amon/internal/events"
)

// Match is one hook that matched an event, with its dedupe key already
// rendered (empty when the hook has none).
type Match struct {
	Hook      *Hook
	DedupeKey string
}

// MatchHooks returns the hooks matching event, in input order. Each rule is
// required; a filter field that fails to evaluate treats the event as
// non-matching rather than erroring.
func MatchHooks(hooks []*Hook, event *events.Event, now time.Time, state *StateStore) []Match {
	var matches []Match
	for _, hook := range hooks {
		if !hook.IsEnabled() {
			continue
		}
		if match, key := matchOne(hook, event, now, state); match {
			matches = append(matches, Match{Hook: hook, DedupeKey: key})
		}
	}
	return matches
}

func matchOne(hook *Hook, event *events.Event, now time.Time, state *StateStore) (bool, string) {
	if !hook.MatchesEventType(event.Type) {
		return false, ""
	}
	if !matchFilter(hook.Filter, event) {
		return false, ""
	}

	var st HookState
	if state != nil {
		st = state.Get(hook.HookID)
	}

	if hook.MaxConcurrency > 0 && st.Inflight >= hook.MaxConcurrency {
		return false, ""
	}

	if hook.CooldownSeconds > 0 && st.LastTriggeredAt != nil {
		elapsed := now.Sub(*st.LastTriggeredAt).Seconds()
		if elapsed < hook.CooldownSeconds {
			return false, ""
		}
	}

	var dedupeKey string
	if hook.DedupeKey != "" {
		tmpl, err := ParseTemplate(hook.DedupeKey)
		if err != nil {
			return false, ""
		}
		dedupeKey = tmpl.RenderString(event)
		if seen, ok := st.Dedupe[dedupeKey]; ok {
			if hook.CooldownSeconds <= 0 {
				// Without a cooldown, having seen the key at all blocks.
				return false, ""
			}
			if now.Sub(seen).Seconds() < hook.CooldownSeconds {
				return false, ""
			}
		}
	}

	return true, dedupeKey
}

func matchFilter(filter *Filter, event *events.Event) bool {
	if filter == nil {
		return true
	}

	for _, actor := range filter.IgnoreActors {
		if actor == event.Actor {
			return false
		}
	}

	if filter.PathGlob != "" {
		path := event.PayloadString("path")
		if path == "" {
			return false
		}
		ok, err := doublestar.Match(filter.PathGlob, path)
		if err != nil || !ok {
			return false
		}
	}

	if filter.MinSize != nil {
		size, ok := event.PayloadNumber("size")
		if !ok || size < *filter.MinSize {
			return false
		}
	}

	if filter.MIME != "" {
		if !matchMIME(filter.MIME, event.PayloadString("mime")) {
			return false
		}
	}

	return true
}

// matchMIME matches exactly, or by prefix when the pattern ends in "/*".
// "text/*" matches "text/plain" but not "application/text".
func matchMIME(pattern, mime string) bool {
	if mime == "" {
		return false
	}
	if pattern == mime {
		return true
	}
	const tail = "/*"
	if len(pattern) > len(tail) && pattern[len(pattern)-len(tail):] == tail {
		prefix := pattern[:len(pattern)-1] // keep the slash
		return len(mime) > len(prefix) && mime[:len(prefix)] == prefix
	}
	return false
}
