package trend

import "sort"

var priorityRanks = map[string]int{
	"Critical": 1,
	"Blocker":  1,
	"High":     2,
	"Medium":   3,
	"Low":      4,
}

var statusRanks = map[string]int{
	"New":            1,
	"Open":           2,
	"In Progress":    3,
	"Ready for Test": 4,
	"In Test":        5,
	"Resolved":       6,
	"Closed":         7,
	"Done":           8,
}

// PriorityRank orders priorities most severe first. Unknown priorities rank 5.
func PriorityRank(priority string) int {
	if r, ok := priorityRanks[priority]; ok {
		return r
	}
	return 5
}

// StatusRank orders statuses along the workflow. Unknown statuses rank 9.
func StatusRank(status string) int {
	if r, ok := statusRanks[status]; ok {
		return r
	}
	return 9
}

// SortIssues sorts a listing by priority rank, then status rank.
// Items with equal ranks keep their input order.
func SortIssues[T any](items []T, priority, status func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := PriorityRank(priority(items[i])), PriorityRank(priority(items[j]))
		if pi != pj {
			return pi < pj
		}
		return StatusRank(status(items[i])) < StatusRank(status(items[j]))
	})
}
