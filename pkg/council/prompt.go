package council

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildAuditPrompt asks the auditor model to score a draft and return
// strict JSON, following the teacher's "tell the model the exact JSON
// shape and give one worked example" prompt-construction style
// (orchestration/default_prompt_builder.go's per-type JSON examples).
func buildAuditPrompt(original, draft string) string {
	var b strings.Builder
	b.WriteString("You are auditing a draft reply for correctness, safety, and completeness.\n\n")
	b.WriteString("Original request:\n")
	b.WriteString(original)
	b.WriteString("\n\nDraft reply:\n")
	b.WriteString(draft)
	b.WriteString("\n\nRespond with strict JSON only, matching exactly this shape:\n")
	b.WriteString(`{"score": 0-100, "issues": [{"severity": "info|warning|critical", "description": "..."}], "warnings": ["..."]}`)
	b.WriteString("\nDo not include any text outside the JSON object.")
	return b.String()
}

// buildRefinementPrompt asks the generator to produce an improved
// draft addressing the auditor's issues.
func buildRefinementPrompt(original, draft string, audit AuditResult) string {
	var b strings.Builder
	b.WriteString("Revise the draft reply below to address the listed issues. Keep what already works.\n\n")
	b.WriteString("Original request:\n")
	b.WriteString(original)
	b.WriteString("\n\nPrevious draft:\n")
	b.WriteString(draft)
	b.WriteString("\n\nIssues to address:\n")
	for _, issue := range audit.Issues {
		fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Description)
	}
	b.WriteString("\nReturn only the revised reply, not a description of the changes.")
	return b.String()
}

type auditWireIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type auditWireResult struct {
	Score    int               `json:"score"`
	Issues   []auditWireIssue  `json:"issues"`
	Warnings []string          `json:"warnings"`
}

// parseAuditResult decodes the auditor's JSON response. If the model
// did not return valid JSON, it returns an error; Coordinate then treats
// the auditor as unavailable and returns the unaudited draft with
// confidence 0.6 and a warning, rather than failing the whole request
// over a formatting slip.
func parseAuditResult(content string) (AuditResult, error) {
	trimmed := extractJSONObject(content)

	var wire auditWireResult
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return AuditResult{}, fmt.Errorf("audit response is not valid JSON: %w", err)
	}

	result := AuditResult{
		Score:    wire.Score,
		Warnings: wire.Warnings,
	}
	for _, wi := range wire.Issues {
		result.Issues = append(result.Issues, Issue{
			Severity:    IssueSeverity(wi.Severity),
			Description: wi.Description,
		})
	}
	return result, nil
}

// extractJSONObject trims any leading/trailing prose a model added
// around the JSON object, taking the outermost {...} span.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
