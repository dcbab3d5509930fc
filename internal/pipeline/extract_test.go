package pipeline

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/notify"
)

func TestExtractPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want incident.Priority
	}{
		{"Critical issue affecting checkout", incident.PriorityCritical},
		{"this is bad", incident.PriorityMedium},
		{"Priority: HIGH", incident.PriorityHigh},
		{"low impact", incident.PriorityLow},
		{"high, maybe critical", incident.PriorityCritical},
		{"error rate below threshold", incident.PriorityLow},
		{"", incident.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := ExtractPriority(tt.text); got != tt.want {
				t.Errorf("ExtractPriority(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want incident.Category
	}{
		{"Performance dropped", incident.CategoryPerformance},
		{"elevated ERROR rate", incident.CategoryError},
		{"connectivity loss to the cache", incident.CategoryConnectivity},
		{"possible security breach", incident.CategorySecurity},
		{"security error", incident.CategoryError},
		{"performance error", incident.CategoryPerformance},
		{"disk full", incident.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := ExtractCategory(tt.text); got != tt.want {
				t.Errorf("ExtractCategory(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractResolutionSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "section after header",
			text: "Plan:\n1. restart\n\nResolution Summary:\n  Restarted the pool  \nScaled replicas\n\nPrevention: alerts",
			want: "Restarted the pool\nScaled replicas",
		},
		{
			name: "blank lines before body",
			text: "summary\n\n\nFixed it\n",
			want: "Fixed it",
		},
		{
			name: "later summary headers skipped",
			text: "Summary:\nA\nExecutive summary\nB\n\nC",
			want: "A\nB",
		},
		{
			name: "header without body falls back",
			text: "did things\nSummary:",
			want: "did things\nSummary:",
		},
		{
			name: "no section short",
			text: "all good",
			want: "all good",
		},
		{
			name: "no section long",
			text: strings.Repeat("a", 250),
			want: strings.Repeat("a", 200),
		},
		{
			name: "fallback counts characters",
			text: strings.Repeat("é", 300),
			want: strings.Repeat("é", 200),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractResolutionSummary(tt.text); got != tt.want {
				t.Errorf("ExtractResolutionSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		stage Stage
		want  string
	}{
		{"plain", "Subject: DB degraded\nBody", StageTriage, "DB degraded"},
		{"split on first colon", "SUBJECT: Update: DB back", StageTriage, "Update: DB back"},
		{"skips lines without subject", "Re: ops\nEmail subject: Cache flush", StageTriage, "Cache flush"},
		{"subject without colon", "subject line missing\nnext", StageTriage, "Incident Update - Triage"},
		{"empty", "", StageInvestigation, "Incident Update - Investigation"},
		{"resolution default", "Resolved.", StageResolution, "Incident Update - Resolution"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractSubject(tt.text, tt.stage); got != tt.want {
				t.Errorf("ExtractSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotificationPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   incident.Priority
		want notify.Priority
	}{
		{incident.PriorityCritical, notify.PriorityUrgent},
		{incident.PriorityHigh, notify.PriorityHigh},
		{incident.PriorityMedium, notify.PriorityNormal},
		{incident.PriorityLow, notify.PriorityLow},
		{"", notify.PriorityNormal},
		{"sev1", notify.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			t.Parallel()
			if got := NotificationPriority(tt.in); got != tt.want {
				t.Errorf("NotificationPriority(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
