package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/notify"
)

// summaryFallbackLen is how much of the resolution text is kept when it
// has no summary section.
const summaryFallbackLen = 200

type rule[T any] struct {
	needle string
	value  T
}

// firstMatch returns the value of the first rule whose needle occurs in
// text, compared case-insensitively, or def when none does.
func firstMatch[T any](text string, rules []rule[T], def T) T {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if strings.Contains(lower, r.needle) {
			return r.value
		}
	}
	return def
}

var priorityRules = []rule[incident.Priority]{
	{"critical", incident.PriorityCritical},
	{"high", incident.PriorityHigh},
	{"low", incident.PriorityLow},
}

var categoryRules = []rule[incident.Category]{
	{"performance", incident.CategoryPerformance},
	{"error", incident.CategoryError},
	{"connectivity", incident.CategoryConnectivity},
	{"security", incident.CategorySecurity},
}

// ExtractPriority derives an incident priority from triage text.
func ExtractPriority(text string) incident.Priority {
	return firstMatch(text, priorityRules, incident.PriorityMedium)
}

// ExtractCategory derives an incident category from triage text.
func ExtractCategory(text string) incident.Category {
	return firstMatch(text, categoryRules, incident.CategoryOther)
}

// ExtractResolutionSummary returns the first run of non-blank lines after
// a line mentioning "summary", trimmed and newline-joined. Further lines
// that mention "summary" are skipped. Without such a section it returns
// the first summaryFallbackLen characters of text.
func ExtractResolutionSummary(text string) string {
	var (
		lines     []string
		inSummary bool
	)
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), "summary") {
			inSummary = true
			continue
		}
		if !inSummary {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
			continue
		}
		if len(lines) > 0 {
			break
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	return truncateRunes(text, summaryFallbackLen)
}

var titleCaser = cases.Title(language.English)

// ExtractSubject returns the text after the first colon of the first line
// that mentions "subject" and contains a colon. Otherwise it builds a
// default subject from the stage name.
func ExtractSubject(text string, stage Stage) string {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), "subject") {
			continue
		}
		if _, after, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(after)
		}
	}
	return "Incident Update - " + titleCaser.String(string(stage))
}

var notificationPriorities = map[incident.Priority]notify.Priority{
	incident.PriorityCritical: notify.PriorityUrgent,
	incident.PriorityHigh:     notify.PriorityHigh,
	incident.PriorityMedium:   notify.PriorityNormal,
	incident.PriorityLow:      notify.PriorityLow,
}

// NotificationPriority maps an incident priority to a delivery priority.
// Unknown or empty priorities map to normal.
func NotificationPriority(p incident.Priority) notify.Priority {
	if np, ok := notificationPriorities[p]; ok {
		return np
	}
	return notify.PriorityNormal
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
