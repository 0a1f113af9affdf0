package trend

import (
	"sort"
	"time"

	"github.com/elonfeng/bugradar/internal/store"
)

// DefectType is the issue type counted by every metric.
const DefectType = "Bug"

// OpenStatuses is the set of statuses that count as open.
var OpenStatuses = []string{"New", "Open", "In Progress"}

// IsOpen reports whether status is in the open-status set.
func IsOpen(status string) bool {
	for _, s := range OpenStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Point is one selected snapshot on the trend line.
type Point struct {
	SnapshotID    int64  `json:"snapshot_id"`
	Date          string `json:"date"`
	Open          int    `json:"open"`
	Critical      int    `json:"critical"`
	High          int    `json:"high"`
	Medium        int    `json:"medium"`
	Low           int    `json:"low"`
	New           int    `json:"new"`
	Fixed         int    `json:"fixed"`
	Reconstructed bool   `json:"reconstructed"`
}

// SeverityCounts are the open-defect counts of one snapshot.
type SeverityCounts struct {
	Open     int `json:"open"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Counts buckets the open defects in records by priority.
// Critical and Blocker share a bucket; other priorities only count toward Open.
func Counts(records []store.IssueRecord) SeverityCounts {
	var c SeverityCounts
	for _, r := range records {
		if r.Type != DefectType || !IsOpen(r.Status) {
			continue
		}
		c.Open++
		switch r.Priority {
		case "Critical", "Blocker":
			c.Critical++
		case "High":
			c.High++
		case "Medium":
			c.Medium++
		case "Low":
			c.Low++
		}
	}
	return c
}

// VelocityCounts are the defects created and resolved within one week.
type VelocityCounts struct {
	New   int `json:"new"`
	Fixed int `json:"fixed"`
}

// Velocity counts defects created or resolved within [date-6d, date].
//
// Only the records of the snapshot itself are consulted, so Fixed counts
// resolutions known as of that capture. It is not a delta against the
// previous snapshot and undercounts churn between captures less than a week
// apart.
func Velocity(date time.Time, records []store.IssueRecord) VelocityCounts {
	d := date.UTC()
	to := d.Format(time.DateOnly)
	from := d.AddDate(0, 0, -6).Format(time.DateOnly)

	var v VelocityCounts
	for _, r := range records {
		if r.Type != DefectType {
			continue
		}
		if inWindow(r.CreatedDate, from, to) {
			v.New++
		}
		if resolved, ok := r.Resolved(); ok && inWindow(resolved, from, to) {
			v.Fixed++
		}
	}
	return v
}

// inWindow compares the date portion of a tracker timestamp against [from, to].
func inWindow(stamp, from, to string) bool {
	if len(stamp) < len(time.DateOnly) {
		return false
	}
	day := stamp[:len(time.DateOnly)]
	return day >= from && day <= to
}

// Group is one labelled count in a breakdown.
type Group struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// BreakdownResult groups open defects by priority and by status.
type BreakdownResult struct {
	Priority []Group `json:"priority"`
	Status   []Group `json:"status"`
}

// Breakdown groups the open defects of records. Empty groups are omitted;
// groups are ordered by rank, then name.
func Breakdown(records []store.IssueRecord) BreakdownResult {
	byPriority := make(map[string]int)
	byStatus := make(map[string]int)
	for _, r := range records {
		if r.Type != DefectType || !IsOpen(r.Status) {
			continue
		}
		byPriority[r.Priority]++
		byStatus[r.Status]++
	}
	return BreakdownResult{
		Priority: groups(byPriority, PriorityRank),
		Status:   groups(byStatus, StatusRank),
	}
}

func groups(counts map[string]int, rank func(string) int) []Group {
	out := make([]Group, 0, len(counts))
	for name, n := range counts {
		if n > 0 {
			out = append(out, Group{Name: name, Value: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i].Name), rank(out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
