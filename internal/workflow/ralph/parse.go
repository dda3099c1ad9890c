package ralph

import (
	"encoding/json"
	"regexp"
	"strings"
)

// taskArrayPattern is the non-greedy fallback used when specDoc isn't
// strict JSON: pull the first top-level array literal out of any
// surrounding prose.
var taskArrayPattern = regexp.MustCompile(`(?s)\[.*?\]`)

// ParseTasks implements the parse-tasks node: strict JSON parse first, a
// regex-extracted `[...]` block second, `[]` on total failure (spec
// §4.7). Returned elements are map[string]any so they flow directly
// through the mergeById reducer.
func ParseTasks(specDoc string) []any {
	var direct []any
	if err := json.Unmarshal([]byte(specDoc), &direct); err == nil {
		return direct
	}

	if m := taskArrayPattern.FindString(specDoc); m != "" {
		var extracted []any
		if err := json.Unmarshal([]byte(m), &extracted); err == nil {
			return extracted
		}
	}

	return []any{}
}

// Finding is one reviewer-reported issue.
type Finding struct {
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// ReviewResult is the reviewer node's expected output shape.
type ReviewResult struct {
	Findings               []Finding `json:"findings"`
	OverallCorrectness     string    `json:"overall_correctness"`
	OverallExplanation     string    `json:"overall_explanation"`
	OverallConfidenceScore float64   `json:"overall_confidence_score,omitempty"`
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
var embeddedFindingsPattern = regexp.MustCompile(`(?s)\{.*"findings".*\}`)

// defaultReviewResult is returned when specDoc is empty or unparseable.
func defaultReviewResult() ReviewResult {
	return ReviewResult{Findings: nil, OverallCorrectness: "patch is correct"}
}

// ParseReviewResult tries, in order: direct JSON parse, fenced code
// block, embedded JSON object containing a "findings" key. Falls back to
// defaultReviewResult. Priority-3 findings are filtered out (spec §4.7).
func ParseReviewResult(raw string) ReviewResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultReviewResult()
	}

	if r, ok := tryUnmarshalReview(trimmed); ok {
		return filterFindings(r)
	}

	if m := fencedBlockPattern.FindStringSubmatch(trimmed); len(m) == 2 {
		if r, ok := tryUnmarshalReview(strings.TrimSpace(m[1])); ok {
			return filterFindings(r)
		}
	}

	if m := embeddedFindingsPattern.FindString(trimmed); m != "" {
		if r, ok := tryUnmarshalReview(m); ok {
			return filterFindings(r)
		}
	}

	return defaultReviewResult()
}

func tryUnmarshalReview(s string) (ReviewResult, bool) {
	var r ReviewResult
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return ReviewResult{}, false
	}
	return r, true
}

func filterFindings(r ReviewResult) ReviewResult {
	kept := make([]Finding, 0, len(r.Findings))
	for _, f := range r.Findings {
		if f.Priority == "3" || f.Priority == "P3" {
			continue
		}
		kept = append(kept, f)
	}
	r.Findings = kept
	return r
}

// NeedsFix reports whether the reviewer's result warrants a fixer pass.
func NeedsFix(r ReviewResult) bool {
	return len(r.Findings) > 0 && r.OverallCorrectness != "patch is correct"
}

// findingsPriorityRank orders P0 < P1 < P2 ascending for the fixer
// prompt's finding ordering.
func findingsPriorityRank(p string) int {
	switch strings.ToUpper(p) {
	case "P0", "0":
		return 0
	case "P1", "1":
		return 1
	case "P2", "2":
		return 2
	default:
		return 99
	}
}

// SortFindingsByPriority returns a copy of findings sorted P0 < P1 < P2
// ascending, stable on ties.
func SortFindingsByPriority(findings []Finding) []Finding {
	out := make([]Finding, len(findings))
	copy(out, findings)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && findingsPriorityRank(out[j-1].Priority) > findingsPriorityRank(out[j].Priority); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
