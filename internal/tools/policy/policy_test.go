package policy

import "testing"

func TestExplain_TierOrder(t *testing.T) {
	p := &Policy{
		Deny:  []string{"filesystem.delete"},
		Ask:   []string{"process.*"},
		Allow: []string{"filesystem.*", "web.*"},
	}

	tests := []struct {
		tool string
		want Decision
	}{
		{"filesystem.delete", DecisionDeny},
		{"filesystem.read", DecisionAllow},
		{"process.spawn", DecisionAsk},
		{"web.search", DecisionAllow},
		{"unknown.tool", DecisionDeny},
	}
	for _, tt := range tests {
		if got := p.Decide(tt.tool, ""); got != tt.want {
			t.Errorf("Decide(%q)=%v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestExplain_NoMatchDenies(t *testing.T) {
	p := &Policy{}
	ex := p.Explain("anything", "")
	if ex.Decision != DecisionDeny {
		t.Errorf("expected default deny, got %v", ex.Decision)
	}
	if ex.Pattern != "" {
		t.Errorf("expected no pattern, got %q", ex.Pattern)
	}
}

func TestExplain_CommandGlob(t *testing.T) {
	p := &Policy{
		Deny:  []string{"terminal.run:rm *"},
		Allow: []string{"terminal.run"},
	}

	if got := p.Decide("terminal.run", "rm -rf /"); got != DecisionDeny {
		t.Errorf("expected deny for rm, got %v", got)
	}
	if got := p.Decide("terminal.run", "ls -la"); got != DecisionAllow {
		t.Errorf("expected allow for ls, got %v", got)
	}
	// A command-scoped pattern never matches a call without a command.
	if got := p.Decide("terminal.run", ""); got != DecisionAllow {
		t.Errorf("expected allow without command, got %v", got)
	}
}

func TestExplain_DenyWinsWithinCall(t *testing.T) {
	p := &Policy{
		Deny:  []string{"filesystem.*"},
		Allow: []string{"filesystem.read"},
	}
	if got := p.Decide("filesystem.read", ""); got != DecisionDeny {
		t.Errorf("expected deny tier to win, got %v", got)
	}
}

func TestCommandOf(t *testing.T) {
	if got := CommandOf(map[string]any{"command": "ls"}); got != "ls" {
		t.Errorf("command: %q", got)
	}
	if got := CommandOf(map[string]any{"cmd": "pwd"}); got != "pwd" {
		t.Errorf("cmd: %q", got)
	}
	if got := CommandOf(map[string]any{"other": 1}); got != "" {
		t.Errorf("absent: %q", got)
	}
}
