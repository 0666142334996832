package schedule

import (
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	expr, err := parseCron("*/15 9 * * 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, m := range []int{0, 15, 30, 45} {
		if !expr.minutes[m] {
			t.Errorf("minute %d missing", m)
		}
	}
	if expr.minutes[5] {
		t.Error("minute 5 should not match")
	}
	if !expr.hours[9] || expr.hours[10] {
		t.Error("hour set wrong")
	}
	if !expr.weekdays[1] || expr.weekdays[2] {
		t.Error("weekday set wrong")
	}
}

func TestParseCron_SundayAlias(t *testing.T) {
	expr, err := parseCron("0 0 * * 7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !expr.weekdays[0] || expr.weekdays[7] {
		t.Errorf("dow 7 must alias Sunday: %v", expr.weekdays)
	}
}

func TestParseCron_Errors(t *testing.T) {
	for _, bad := range []string{
		"* * * *",
		"* * * * * *",
		"*/0 * * * *",
		"61 * * * *",
		"* 24 * * *",
		"x * * * *",
	} {
		if _, err := parseCron(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCronNext(t *testing.T) {
	// Monday 2026-08-24.
	base := time.Date(2026, 8, 24, 8, 50, 30, 0, time.UTC)

	expr, err := parseCron("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}
	next, ok := expr.next(base)
	if !ok {
		t.Fatal("no match found")
	}
	want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next: %v, want %v", next, want)
	}

	// Weekday-constrained: next Sunday via the 7 alias.
	expr, err = parseCron("30 6 * * 7")
	if err != nil {
		t.Fatal(err)
	}
	next, ok = expr.next(base)
	if !ok {
		t.Fatal("no match found")
	}
	want = time.Date(2026, 8, 30, 6, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next sunday: %v, want %v", next, want)
	}
}

func TestCronNext_StrictlyAfterBase(t *testing.T) {
	expr, err := parseCron("* * * * *")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, ok := expr.next(base)
	if !ok || !next.After(base) {
		t.Errorf("next must be strictly after base: %v", next)
	}
}

func TestEffectiveType(t *testing.T) {
	runAt := time.Now()
	tests := []struct {
		s    Schedule
		want Type
	}{
		{Schedule{Type: TypeCron}, TypeCron},
		{Schedule{IntervalSeconds: 30}, TypeInterval},
		{Schedule{RunAt: &runAt}, TypeOneShot},
		{Schedule{Cron: "* * * * *"}, TypeCron},
		{Schedule{}, TypeInterval},
	}
	for i, tt := range tests {
		if got := tt.s.EffectiveType(); got != tt.want {
			t.Errorf("case %d: got %s want %s", i, got, tt.want)
		}
	}
}
