package tracker

import (
	"strings"

	"github.com/elonfeng/bugradar/internal/store"
)

// Convert maps a raw tracker issue onto a snapshot record.
// Summaries are not generated on the capture path; LLMSummary stays empty.
func Convert(raw RawIssue) store.IssueInput {
	components := make([]string, 0, len(raw.Fields.Components))
	for _, c := range raw.Fields.Components {
		if c.Name != "" {
			components = append(components, c.Name)
		}
	}

	return store.IssueInput{
		Key:            raw.Key,
		Summary:        raw.Fields.Summary,
		Status:         raw.StatusName(),
		Priority:       raw.PriorityName(),
		Type:           raw.TypeName(),
		Assignee:       raw.AssigneeName(),
		Reporter:       raw.ReporterName(),
		CreatedDate:    raw.Fields.Created,
		ResolutionDate: raw.Fields.ResolutionDate,
		UpdatedDate:    raw.Fields.Updated,
		Labels:         strings.Join(raw.Fields.Labels, ", "),
		Component:      strings.Join(components, ", "),
		LatestComment:  raw.LatestComment(),
	}
}

// ConvertAll maps every raw issue.
func ConvertAll(raws []RawIssue) []store.IssueInput {
	out := make([]store.IssueInput, len(raws))
	for i, r := range raws {
		out[i] = Convert(r)
	}
	return out
}

// BrowseURL returns the tracker page of an issue, or "" without a base URL.
func BrowseURL(baseURL, key string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/browse/" + key
}
