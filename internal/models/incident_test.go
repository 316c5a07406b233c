package models

import "testing"

// TestIncidentStatus_CanTransition covers the one-directional lifecycle.
func TestIncidentStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to IncidentStatus
		want     bool
	}{
		{IncidentDetected, IncidentAnalyzing, true},
		{IncidentAnalyzing, IncidentPendingApproval, true},
		{IncidentPendingApproval, IncidentRemediating, true},
		{IncidentRemediating, IncidentVerifying, true},
		{IncidentVerifying, IncidentResolved, true},
		{IncidentVerifying, IncidentFailed, true},
		{IncidentVerifying, IncidentEscalated, true},
		{IncidentAnalyzing, IncidentResolved, true}, // skipping forward is allowed
		{IncidentAnalyzing, IncidentDetected, false},
		{IncidentRemediating, IncidentAnalyzing, false},
		{IncidentResolved, IncidentAnalyzing, false},
		{IncidentFailed, IncidentResolved, false},
		{IncidentEscalated, IncidentDetected, false},
		{IncidentDetected, IncidentStatus("bogus"), false},
		{IncidentStatus("bogus"), IncidentAnalyzing, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIncidentStatus_Terminal(t *testing.T) {
	terminal := []IncidentStatus{IncidentResolved, IncidentFailed, IncidentEscalated}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []IncidentStatus{IncidentDetected, IncidentAnalyzing, IncidentPendingApproval,
		IncidentRemediating, IncidentVerifying}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// TestActionStatus_CanTransition covers the action state machine.
func TestActionStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to ActionStatus
		want     bool
	}{
		{ActionPendingApproval, ActionApproved, true},
		{ActionPendingApproval, ActionSkipped, true},
		{ActionApproved, ActionExecuting, true},
		{ActionApproved, ActionSkipped, true},
		{ActionExecuting, ActionSucceeded, true},
		{ActionExecuting, ActionFailed, true},
		{ActionExecuting, ActionRolledBack, true},
		{ActionPendingApproval, ActionExecuting, false},
		{ActionPendingApproval, ActionSucceeded, false},
		{ActionSucceeded, ActionExecuting, false},
		{ActionFailed, ActionApproved, false},
		{ActionSkipped, ActionApproved, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if Severity("mystery").Rank() != SeverityMedium.Rank() {
		t.Error("unknown severity should rank as medium")
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity(SeverityLow, SeverityCritical); got != SeverityCritical {
		t.Errorf("want critical, got %s", got)
	}
	if got := MaxSeverity(SeverityHigh, SeverityMedium); got != SeverityHigh {
		t.Errorf("want high, got %s", got)
	}
	if got := MaxSeverity(SeverityMedium, SeverityMedium); got != SeverityMedium {
		t.Errorf("want medium, got %s", got)
	}
}

// TestAlertFingerprint_VolatileLabelsExcluded: pod churn must not change
// alert identity.
func TestAlertFingerprint_VolatileLabelsExcluded(t *testing.T) {
	a := Alert{
		Service: "checkout",
		Name:    "HighErrorRate",
		Labels:  map[string]string{"pod": "checkout-abc", "instance": "10.0.0.1", "endpoint": "/cart"},
	}
	b := Alert{
		Service: "checkout",
		Name:    "HighErrorRate",
		Labels:  map[string]string{"pod": "checkout-def", "instance": "10.0.0.2", "endpoint": "/cart"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("volatile labels changed the fingerprint")
	}

	c := b
	c.Labels = map[string]string{"endpoint": "/pay"}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("meaningful label change should alter the fingerprint")
	}
}

func TestSignalService(t *testing.T) {
	if got := (Signal{Labels: map[string]string{"service": "checkout"}}).Service(); got != "checkout" {
		t.Errorf("service label: got %s", got)
	}
	if got := (Signal{Labels: map[string]string{"app": "payment"}}).Service(); got != "payment" {
		t.Errorf("app fallback: got %s", got)
	}
	if got := (Signal{}).Service(); got != "unknown" {
		t.Errorf("missing labels: got %s", got)
	}
}
