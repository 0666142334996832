// Package policy implements tool authorization: ordered deny/ask/allow
// glob tiers evaluated against tool names, with an optional
// "tool:command-glob" form that also inspects the call's command argument.
package policy

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Decision is the outcome of a policy check.
type Decision string

const (
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
	DecisionAllow Decision = "allow"
)

// Policy holds the ordered glob tiers. Deny wins, then ask, then allow;
// a call matching no pattern is denied.
type Policy struct {
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	Ask   []string `json:"ask,omitempty" yaml:"ask,omitempty"`
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
}

// Explanation reports the decision plus the pattern that produced it.
type Explanation struct {
	Decision Decision `json:"decision"`
	Pattern  string   `json:"pattern,omitempty"`
}

// Decide evaluates the tiers for a tool name and optional command string.
func (p *Policy) Decide(tool, command string) Decision {
	return p.Explain(tool, command).Decision
}

// Explain evaluates the tiers in deny, ask, allow order. The first
// matching pattern within a tier wins that tier.
func (p *Policy) Explain(tool, command string) Explanation {
	if pattern, ok := matchTier(p.Deny, tool, command); ok {
		return Explanation{Decision: DecisionDeny, Pattern: pattern}
	}
	if pattern, ok := matchTier(p.Ask, tool, command); ok {
		return Explanation{Decision: DecisionAsk, Pattern: pattern}
	}
	if pattern, ok := matchTier(p.Allow, tool, command); ok {
		return Explanation{Decision: DecisionAllow, Pattern: pattern}
	}
	return Explanation{Decision: DecisionDeny}
}

func matchTier(patterns []string, tool, command string) (string, bool) {
	for _, pattern := range patterns {
		if matchPattern(pattern, tool, command) {
			return pattern, true
		}
	}
	return "", false
}

// matchPattern matches a shell glob against the tool name. The form
// "tool-glob:command-glob" additionally requires the call's command to
// match the command glob; calls without a command never match that form.
func matchPattern(pattern, tool, command string) bool {
	toolGlob := pattern
	commandGlob := ""
	if idx := strings.Index(pattern, ":"); idx >= 0 {
		toolGlob = pattern[:idx]
		commandGlob = pattern[idx+1:]
	}

	if ok, err := doublestar.Match(toolGlob, tool); err != nil || !ok {
		return false
	}
	if commandGlob == "" {
		return true
	}
	if command == "" {
		return false
	}
	ok, err := doublestar.Match(commandGlob, command)
	return err == nil && ok
}

// CommandOf extracts the command string a pattern may inspect from tool
// args, checking "command" then "cmd".
func CommandOf(args map[string]any) string {
	for _, key := range []string{"command", "cmd"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
