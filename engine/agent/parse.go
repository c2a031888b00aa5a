package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scoutline/scoutd/engine/domain"
)

// ParseItems decodes the structured item list out of a model's final turn.
// Models wrap JSON in code fences or prose often enough that the parser
// strips fences and takes the outermost object before decoding. Anything
// that still fails to decode is a StructuredOutputError: re-asking with a
// perturbed config will not fix a model that cannot hold the schema.
func ParseItems(raw string) ([]domain.Item, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, &domain.StructuredOutputError{Reason: "no JSON object in model output", Raw: raw}
	}

	var out struct {
		Items []domain.Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &domain.StructuredOutputError{Reason: "decode: " + err.Error(), Raw: raw}
	}
	if out.Items == nil {
		return nil, &domain.StructuredOutputError{Reason: `missing "items" list`, Raw: raw}
	}
	for i, it := range out.Items {
		if it.Title == "" || it.URL == "" {
			return nil, &domain.StructuredOutputError{
				Reason: fmt.Sprintf("item %d missing title or url", i),
				Raw:    raw,
			}
		}
	}
	return out.Items, nil
}

// extractJSON returns the outermost JSON object in raw, tolerating markdown
// code fences and prose around it. Empty string when no object is present.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
