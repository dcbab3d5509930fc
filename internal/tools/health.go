package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ComponentStatus is the health snapshot of one system component.
type ComponentStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int    `json:"response_time_ms"`
}

// HealthReport is returned by the system-health check. Exactly one of
// Component, Components or Error is populated.
type HealthReport struct {
	Component      string                     `json:"component,omitempty"`
	Status         string                     `json:"status,omitempty"`
	ResponseTimeMS int                        `json:"response_time_ms,omitempty"`
	Components     map[string]ComponentStatus `json:"components,omitempty"`
	OverallStatus  string                     `json:"overall_status,omitempty"`
	Error          string                     `json:"error,omitempty"`
}

// SystemHealth is a static health check over a fixed component table.
type SystemHealth struct {
	components map[string]ComponentStatus
}

// NewSystemHealth returns the check with the default component table.
func NewSystemHealth() *SystemHealth {
	return &SystemHealth{components: map[string]ComponentStatus{
		"database":      {Status: "healthy", ResponseTimeMS: 45},
		"api_server":    {Status: "healthy", ResponseTimeMS: 120},
		"cache":         {Status: "healthy", ResponseTimeMS: 5},
		"message_queue": {Status: "healthy", ResponseTimeMS: 15},
		"file_storage":  {Status: "healthy", ResponseTimeMS: 200},
	}}
}

// Check reports a single component, or all of them when component is empty.
func (h *SystemHealth) Check(component string) HealthReport {
	if component != "" {
		c, ok := h.components[component]
		if !ok {
			return HealthReport{Error: fmt.Sprintf("Component '%s' not found", component)}
		}
		return HealthReport{Component: component, Status: c.Status, ResponseTimeMS: c.ResponseTimeMS}
	}

	all := make(map[string]ComponentStatus, len(h.components))
	overall := "healthy"
	for name, c := range h.components {
		all[name] = c
		if c.Status != "healthy" {
			overall = "degraded"
		}
	}
	return HealthReport{Components: all, OverallStatus: overall}
}

func (h *SystemHealth) Name() string { return "check_system_health" }

func (h *SystemHealth) Description() string {
	return "Check health of a specific system component, or of all components when none is given."
}

func (h *SystemHealth) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Component string `json:"component,omitempty"`
	}
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	return json.Marshal(h.Check(input.Component))
}
