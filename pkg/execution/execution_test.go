package execution

import (
	"testing"
	"time"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

func policyValue(backoff, initialDelay string) jsonvalue.Value {
	v := jsonvalue.Object()
	v.Set("backoff", jsonvalue.String(backoff))
	v.Set("initialDelay", jsonvalue.String(initialDelay))
	return v
}

func TestRetryBackoff_Constant(t *testing.T) {
	policy := policyValue("constant", "2s")
	for attempt := 0; attempt < 3; attempt++ {
		if got := retryBackoff(policy, attempt); got != 2*time.Second {
			t.Errorf("attempt %d: backoff = %v, want 2s", attempt, got)
		}
	}
}

func TestRetryBackoff_Linear(t *testing.T) {
	policy := policyValue("linear", "2s")
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 6 * time.Second},
	}
	for _, c := range cases {
		if got := retryBackoff(policy, c.attempt); got != c.want {
			t.Errorf("attempt %d: backoff = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryBackoff_Exponential(t *testing.T) {
	policy := policyValue("exponential", "1s")
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, c := range cases {
		if got := retryBackoff(policy, c.attempt); got != c.want {
			t.Errorf("attempt %d: backoff = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryBackoff_ExponentialCapped(t *testing.T) {
	policy := policyValue("exponential", "1s")
	got := retryBackoff(policy, 9)
	if got != maxRetryBackoff {
		t.Errorf("attempt 9: backoff = %v, want capped %v", got, maxRetryBackoff)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"", 0},
	}
	for _, c := range cases {
		if got := parseDuration(c.in); got != c.want {
			t.Errorf("parseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed}
	nonTerminal := []Status{StatusPending, StatusQueued, StatusRunning}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s: expected terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s: expected non-terminal", s)
		}
	}
}

func TestToStatusView_PreservesFields(t *testing.T) {
	e := Execution{
		Status: StatusCompleted,
		Error:  "",
	}
	view := e.ToStatusView()
	if view.Status != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", view.Status)
	}
}
