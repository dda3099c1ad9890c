package ralph

import "github.com/flora131/atomic-sub005/pkg/types"

// IsRalphOrigin implements the task-persistence contract's classification
// rule (spec §4.7, §9 Open Question resolved conservatively): a TodoWrite
// call sharing at least one task id with Ralph's known-task set is
// Ralph-origin and may be applied to visible state; a call sharing no ids
// is foreign and must not overwrite Ralph's task set or be persisted.
func IsRalphOrigin(knownTaskIDs map[string]bool, incoming []types.TaskItem) bool {
	for _, t := range incoming {
		if knownTaskIDs[t.ID] {
			return true
		}
	}
	return false
}

// KnownTaskIDs extracts the id set from Ralph's current task list, for
// use with IsRalphOrigin.
func KnownTaskIDs(tasks []types.TaskItem) map[string]bool {
	out := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		out[t.ID] = true
	}
	return out
}
