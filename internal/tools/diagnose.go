package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Diagnosis is the result of matching a symptom against the known buckets.
type Diagnosis struct {
	Diagnosis          string   `json:"diagnosis"`
	LikelyCauses       []string `json:"likely_causes"`
	RecommendedActions []string `json:"recommended_actions"`
}

type diagnosisBucket struct {
	keywords []string
	result   Diagnosis
}

// Checked in order; first bucket with any keyword hit wins.
var diagnosisBuckets = []diagnosisBucket{
	{
		keywords: []string{"slow", "timeout"},
		result: Diagnosis{
			Diagnosis:          "Performance degradation",
			LikelyCauses:       []string{"High database query latency", "API server overload", "Cache miss rate increase"},
			RecommendedActions: []string{"Check database query performance", "Review API server metrics", "Investigate cache hit rates"},
		},
	},
	{
		keywords: []string{"error", "failure"},
		result: Diagnosis{
			Diagnosis:          "Service failure",
			LikelyCauses:       []string{"Component crash", "Resource exhaustion", "Configuration error"},
			RecommendedActions: []string{"Check component logs", "Review resource usage", "Verify configuration"},
		},
	},
	{
		keywords: []string{"connection"},
		result: Diagnosis{
			Diagnosis:          "Connectivity issue",
			LikelyCauses:       []string{"Network partition", "Service unavailable", "Firewall blocking"},
			RecommendedActions: []string{"Check network connectivity", "Verify service availability", "Review firewall rules"},
		},
	},
}

var unknownDiagnosis = Diagnosis{
	Diagnosis:          "Unknown issue",
	LikelyCauses:       []string{"Requires further investigation"},
	RecommendedActions: []string{"Collect more diagnostic information", "Review system logs", "Check recent changes"},
}

// Diagnose maps a free-text symptom onto a fixed diagnosis bucket.
func Diagnose(symptom string) Diagnosis {
	s := strings.ToLower(symptom)
	for _, b := range diagnosisBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(s, kw) {
				return cloneDiagnosis(b.result)
			}
		}
	}
	return cloneDiagnosis(unknownDiagnosis)
}

func cloneDiagnosis(d Diagnosis) Diagnosis {
	return Diagnosis{
		Diagnosis:          d.Diagnosis,
		LikelyCauses:       append([]string(nil), d.LikelyCauses...),
		RecommendedActions: append([]string(nil), d.RecommendedActions...),
	}
}

// IssueDiagnoser exposes Diagnose as a Tool.
type IssueDiagnoser struct{}

func (IssueDiagnoser) Name() string { return "diagnose_issue" }

func (IssueDiagnoser) Description() string {
	return "Diagnose a system issue from a symptom description and suggest likely causes and actions."
}

func (IssueDiagnoser) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Symptom string `json:"symptom"`
	}
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Symptom == "" {
		return nil, errors.New("symptom is required")
	}
	return json.Marshal(Diagnose(input.Symptom))
}
