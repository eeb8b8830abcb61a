package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wolfman30/clinical-intake-pipeline/internal/aiservice"
)

const systemInstruction = `You are a clinical documentation assistant preparing a pre-visit summary for a physician.
Use only the information provided. Do not invent history, findings or results.
Write in concise clinical language. Differential diagnoses are possibilities for the physician to consider, ordered from most to least likely.
Always respond with a single JSON object and nothing else.`

const fewShotExamples = `EXAMPLE 1
Input: Chief complaint "Headache for 3 days". 34-year-old female, non-smoker. Form: onset gradual, severity 6/10, photophobia yes, fever no.
Output: {"chief_complaint":"Headache for 3 days","history_of_present_illness":"34-year-old female with 3 days of gradual-onset headache rated 6/10 with photophobia. Denies fever.","differential_diagnoses":["Migraine without aura","Tension-type headache"],"recommended_tests":["Neurological examination","Blood pressure measurement"],"urgency_level":"routine"}

EXAMPLE 2
Input: Chief complaint "Shortness of breath". 71-year-old male, former smoker, BMI 31.2. Document: "BNP 890 pg/mL. Chest X-ray: bilateral pleural effusions."
Output: {"chief_complaint":"Shortness of breath","history_of_present_illness":"71-year-old male former smoker presenting with shortness of breath. Recent BNP 890 pg/mL and chest X-ray showing bilateral pleural effusions.","differential_diagnoses":["Acute decompensated heart failure","Pneumonia with parapneumonic effusion","COPD exacerbation"],"recommended_tests":["Echocardiogram","Basic metabolic panel","Repeat chest X-ray"],"urgency_level":"urgent"}`

const schemaInstruction = `Respond with exactly this JSON object and no other text:
{
  "chief_complaint": string (required, non-empty),
  "history_of_present_illness": string (required, non-empty),
  "differential_diagnoses": array of strings (at most 10),
  "recommended_tests": array of strings (at most 10),
  "urgency_level": one of "routine", "urgent", "emergency"
}`

// chiefComplaintKeys are rendered in the chief complaint block, not the symptom block.
var chiefComplaintKeys = map[string]bool{"chiefComplaint": true, "chief_complaint": true}

// BuildPrompt renders the clinical context deterministically: the same context always
// yields byte-identical prompts.
func BuildPrompt(cc ClinicalContext) aiservice.Prompt {
	var b strings.Builder

	b.WriteString(fewShotExamples)
	b.WriteString("\n\n---\nPATIENT INTAKE\n\n")

	b.WriteString("CHIEF COMPLAINT (patient-stated, authoritative)\n")
	if cc.ChiefComplaint != "" {
		fmt.Fprintf(&b, "%q\n", cc.ChiefComplaint)
		b.WriteString("Use this chief complaint verbatim in the chief_complaint field. It takes priority over anything inferred from documents; do not rephrase or replace it.\n\n")
	} else {
		b.WriteString("Not stated. Derive the chief complaint from the intake data below.\n\n")
	}

	b.WriteString("DEMOGRAPHICS AND HISTORY\n")
	writeField(&b, "Age", ageText(cc.Age))
	writeField(&b, "Gender", cc.Patient.Gender)
	if cc.BMI > 0 {
		writeField(&b, "BMI", fmt.Sprintf("%.1f", cc.BMI))
	}
	writeField(&b, "Family history", cc.Patient.FamilyHistory)
	writeField(&b, "Smoking", cc.Patient.SmokingStatus)
	writeField(&b, "Alcohol use", cc.Patient.AlcoholUse)
	writeField(&b, "Drug use", cc.Patient.DrugUse)
	writeField(&b, "Allergies", cc.Patient.Allergies)
	b.WriteString("\n")

	b.WriteString("SYMPTOMS AND INTAKE ANSWERS\n")
	if n := writeMap(&b, cc.FormData, chiefComplaintKeys); n == 0 {
		b.WriteString("None provided.\n")
	}
	b.WriteString("\n")

	if anyContent(cc.VoiceData) {
		b.WriteString("VOICE INTAKE\n")
		writeMap(&b, cc.VoiceData, nil)
		b.WriteString("\n")
	}

	b.WriteString("UPLOADED DOCUMENTS\n")
	if len(cc.Files) == 0 {
		b.WriteString("None.\n")
	}
	for i, f := range cc.Files {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, f.Name, f.Type)
		if f.Failed {
			b.WriteString("Text extraction failed for this file; its contents are unavailable.\n")
			continue
		}
		b.WriteString(strings.TrimSpace(f.Text))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(schemaInstruction)

	return aiservice.Prompt{System: systemInstruction, User: b.String()}
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = "Not provided"
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func ageText(age int) string {
	if age < 0 {
		return ""
	}
	return fmt.Sprintf("%d", age)
}

func writeMap(b *strings.Builder, data map[string]any, skip map[string]bool) int {
	keys := make([]string, 0, len(data))
	for k := range data {
		if skip[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, k := range keys {
		if !hasContent(data[k]) {
			continue
		}
		fmt.Fprintf(b, "- %s: %s\n", humanize(k), renderValue(data[k]))
		written++
	}
	return written
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		// encoding/json sorts map keys, so nested values stay deterministic.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// hasContent reports whether v carries anything worth sending to the model. Forms
// submit every field, so blank strings and empty lists or objects count as absent.
func hasContent(v any) bool {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if hasContent(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return anyContent(val)
	default:
		return renderValue(v) != ""
	}
}

func anyContent(data map[string]any) bool {
	for _, v := range data {
		if hasContent(v) {
			return true
		}
	}
	return false
}

func humanize(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case r >= 'A' && r <= 'Z' && i > 0:
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
