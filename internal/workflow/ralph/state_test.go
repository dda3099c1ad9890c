package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flora131/atomic-sub005/internal/graph"
)

func taskMap(id, status string, blockedBy ...string) map[string]any {
	m := map[string]any{fieldID: id, fieldStatus: status}
	if len(blockedBy) > 0 {
		list := make([]any, len(blockedBy))
		for i, b := range blockedBy {
			list[i] = b
		}
		m[fieldBlockedBy] = list
	}
	return m
}

func TestReadyTasks_RespectsBlockedByNormalization(t *testing.T) {
	state := graph.State{"tasks": []any{
		taskMap("1", "completed"),
		taskMap("2", "pending", " #1 "),
		taskMap("3", "pending", "99"),
	}}
	ready := readyTasks(state)
	assert.Len(t, ready, 1)
	assert.Equal(t, "2", taskID(ready[0]))
}

func TestUntil_StopsWhenAllTerminalOrNoActionable(t *testing.T) {
	allDone := graph.State{"tasks": []any{taskMap("1", "completed"), taskMap("2", "error")}, "iteration": 1.0}
	assert.True(t, Until(allDone))

	stuck := graph.State{"tasks": []any{taskMap("1", "pending", "missing")}, "iteration": 1.0}
	assert.True(t, Until(stuck)) // no actionable task: blocked forever

	capped := graph.State{"tasks": []any{taskMap("1", "pending")}, "iteration": 100.0}
	assert.True(t, Until(capped))

	active := graph.State{"tasks": []any{taskMap("1", "pending")}, "iteration": 0.0}
	assert.False(t, Until(active))
}

func TestParseTasks_StrictThenRegexThenEmpty(t *testing.T) {
	strict := ParseTasks(`[{"id":"1","content":"a","status":"pending"}]`)
	assert.Len(t, strict, 1)

	embedded := ParseTasks("Here is the plan:\n[{\"id\":\"1\",\"content\":\"a\",\"status\":\"pending\"}]\nThanks.")
	assert.Len(t, embedded, 1)

	empty := ParseTasks("no tasks here at all")
	assert.Empty(t, empty)
}

func TestParseReviewResult_FiltersPriority3AndFallsBackToDefault(t *testing.T) {
	raw := `{"findings":[{"priority":"P3","message":"nit"},{"priority":"P1","message":"bug"}],"overall_correctness":"needs fixes"}`
	r := ParseReviewResult(raw)
	assert.Len(t, r.Findings, 1)
	assert.Equal(t, "P1", r.Findings[0].Priority)

	fenced := "```json\n{\"findings\":[],\"overall_correctness\":\"patch is correct\"}\n```"
	rf := ParseReviewResult(fenced)
	assert.Empty(t, rf.Findings)

	assert.Equal(t, defaultReviewResult(), ParseReviewResult(""))
	assert.Equal(t, defaultReviewResult(), ParseReviewResult("not json at all"))
}

func TestSortFindingsByPriority_AscendingP0First(t *testing.T) {
	in := []Finding{{Priority: "P2"}, {Priority: "P0"}, {Priority: "P1"}}
	out := SortFindingsByPriority(in)
	assert.Equal(t, []string{"P0", "P1", "P2"}, []string{out[0].Priority, out[1].Priority, out[2].Priority})
}
