package judge

import (
	"bytes"
	"fmt"
	"strings"
)

// promptField describes a single output field in the verdict schema.
type promptField struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// promptSpec defines the sections for a structured judge prompt.
type promptSpec struct {
	Purpose      string
	Background   string
	OutputFields []promptField
	Rules        []string
	OutputFormat string
}

// Criteria every verdict is scored against, fixed by design.
var Criteria = []string{"accuracy", "completeness", "clarity", "helpfulness", "conciseness"}

func buildPrompt(spec promptSpec) string {
	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE", spec.Purpose)
	writeSection(&buf, "BACKGROUND", spec.Background)
	writeSection(&buf, "OUTPUT", formatFields(spec.OutputFields))
	writeSection(&buf, "RULES", formatList(spec.Rules))
	writeSection(&buf, "OUTPUT_FORMAT", spec.OutputFormat)
	return strings.TrimSpace(buf.String()) + "\n"
}

func writeSection(buf *bytes.Buffer, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(buf, "[%s]\n%s\n\n", title, body)
}

func formatFields(fields []promptField) string {
	var buf strings.Builder
	for _, f := range fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(&buf, "- %s (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
		} else {
			fmt.Fprintf(&buf, "- %s (%s, %s)\n", f.Name, f.Type, req)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// verdictPrompt renders the evaluation prompt. suggestCategory adds the
// advisory classification fields for battles created under "general".
func verdictPrompt(suggestCategory bool) string {
	fields := []promptField{
		{Name: "winnerId", Type: "string|null", Required: true, Description: "model id of the best overall response, or null for a tie"},
		{Name: "analysis", Type: "string", Required: true, Description: "2-4 sentence comparison of the responses"},
		{Name: "scores", Type: "object", Required: true, Description: "map of model id to an integer score from 1 to 10"},
		{Name: "criteria", Type: "string[]", Required: true, Description: "the criteria names the evaluation used"},
	}
	rules := []string{
		"Judge only the response content; never reward verbosity for its own sake.",
		"Criteria: " + strings.Join(Criteria, ", ") + ".",
		"A tie (winnerId = null) is a valid outcome; scores may still differ.",
		"Every model id in the input must appear in scores.",
		"Do not speculate about which vendor produced a response.",
	}
	if suggestCategory {
		fields = append(fields,
			promptField{Name: "suggestedCategory", Type: "string", Required: false, Description: "a more specific category for the prompt, e.g. coding, writing, math, analysis"},
			promptField{Name: "categoryConfidence", Type: "number", Required: false, Description: "confidence in the suggestion, 0 to 1"},
		)
		rules = append(rules, "Suggest a category only if clearly better than \"general\".")
	}
	return buildPrompt(promptSpec{
		Purpose:      "Compare several AI model responses to the same user prompt and pick the best one.",
		Background:   "The input JSON carries the user prompt and each model's final response text.",
		OutputFields: fields,
		Rules:        rules,
		OutputFormat: "Return a single JSON object with exactly the fields above.",
	})
}
