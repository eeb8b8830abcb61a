package summary

import (
	"encoding/json"
	"strings"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

const (
	maxChiefComplaintRunes = 1000
	maxHPIRunes            = 2000
	maxListItems           = 10
	maxListItemRunes       = 200
)

// Sanitize pulls the first balanced JSON object out of raw model output and bounds it.
// A missing object or missing required field is a *intake.ResponseSchemaError.
func Sanitize(raw string) (intake.SummaryPayload, error) {
	object, ok := firstJSONObject(raw)
	if !ok {
		return intake.SummaryPayload{}, &intake.ResponseSchemaError{Reason: "no JSON object in response"}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return intake.SummaryPayload{}, &intake.ResponseSchemaError{Reason: "invalid JSON: " + err.Error()}
	}

	complaint := stringField(fields, "chief_complaint")
	if complaint == "" {
		return intake.SummaryPayload{}, &intake.ResponseSchemaError{Reason: "chief_complaint missing or empty"}
	}
	hpi := stringField(fields, "history_of_present_illness")
	if hpi == "" {
		return intake.SummaryPayload{}, &intake.ResponseSchemaError{Reason: "history_of_present_illness missing or empty"}
	}

	return intake.SummaryPayload{
		ChiefComplaint:          truncateRunes(complaint, maxChiefComplaintRunes),
		HistoryOfPresentIllness: truncateRunes(hpi, maxHPIRunes),
		DifferentialDiagnoses:   listField(fields, "differential_diagnoses"),
		RecommendedTests:        listField(fields, "recommended_tests"),
		UrgencyLevel:            intake.ParseUrgency(strings.ToLower(stringField(fields, "urgency_level"))),
	}, nil
}

// ApplyStatedComplaint replaces the model's chief complaint with the patient's own words.
func ApplyStatedComplaint(p intake.SummaryPayload, stated string) intake.SummaryPayload {
	stated = strings.TrimSpace(stated)
	if stated != "" {
		p.ChiefComplaint = truncateRunes(stated, maxChiefComplaintRunes)
	}
	return p
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

func listField(fields map[string]any, key string) []string {
	items, ok := fields[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, min(len(items), maxListItems))
	for _, item := range items {
		if len(out) == maxListItems {
			break
		}
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, truncateRunes(s, maxListItemRunes))
	}
	return out
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// firstJSONObject scans for the first balanced {...}, ignoring braces inside strings.
func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	for start >= 0 {
		if end, ok := matchObject(raw, start); ok {
			return raw[start : end+1], true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchObject(raw string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
