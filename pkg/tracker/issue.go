package tracker

// RawIssue is an issue as returned by the Jira search API.
type RawIssue struct {
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// Fields holds the subset of Jira issue fields the dashboard reads.
// Object-valued fields are pointers because Jira sends null for unset values.
type Fields struct {
	Summary        string       `json:"summary"`
	Status         *Named       `json:"status"`
	Priority       *Named       `json:"priority"`
	IssueType      *Named       `json:"issuetype"`
	Assignee       *User        `json:"assignee"`
	Reporter       *User        `json:"reporter"`
	Created        string       `json:"created"`
	ResolutionDate string       `json:"resolutiondate"`
	Updated        string       `json:"updated"`
	Labels         []string     `json:"labels"`
	Components     []Named      `json:"components"`
	Comment        *CommentPage `json:"comment"`
}

// Named is any Jira object identified by its display name.
type Named struct {
	Name string `json:"name"`
}

// User is a Jira user reference.
type User struct {
	DisplayName string `json:"displayName"`
}

// CommentPage is the embedded comment list of an issue.
type CommentPage struct {
	Comments []Comment `json:"comments"`
}

// Comment is one issue comment.
type Comment struct {
	Author *User  `json:"author"`
	Body   string `json:"body"`
}

// AuthorName returns the comment author or "User" when unknown.
func (c Comment) AuthorName() string {
	if c.Author == nil || c.Author.DisplayName == "" {
		return "User"
	}
	return c.Author.DisplayName
}

func (n *Named) nameOr(def string) string {
	if n == nil || n.Name == "" {
		return def
	}
	return n.Name
}

func (u *User) nameOr(def string) string {
	if u == nil || u.DisplayName == "" {
		return def
	}
	return u.DisplayName
}

// StatusName returns the status name, "Unknown" when absent.
func (i RawIssue) StatusName() string { return i.Fields.Status.nameOr("Unknown") }

// StatusNameOr returns the status name, def when absent.
func (i RawIssue) StatusNameOr(def string) string { return i.Fields.Status.nameOr(def) }

// PriorityName returns the priority name, "None" when absent.
func (i RawIssue) PriorityName() string { return i.Fields.Priority.nameOr("None") }

// TypeName returns the issue type name, "Unknown" when absent.
func (i RawIssue) TypeName() string { return i.Fields.IssueType.nameOr("Unknown") }

// AssigneeName returns the assignee, "Unassigned" when absent.
func (i RawIssue) AssigneeName() string { return i.Fields.Assignee.nameOr("Unassigned") }

// ReporterName returns the reporter, "Unknown" when absent.
func (i RawIssue) ReporterName() string { return i.Fields.Reporter.nameOr("Unknown") }

// Comments returns the embedded comments in tracker order.
func (i RawIssue) Comments() []Comment {
	if i.Fields.Comment == nil {
		return nil
	}
	return i.Fields.Comment.Comments
}

// LatestComment returns the body of the last comment.
func (i RawIssue) LatestComment() string {
	cs := i.Comments()
	if len(cs) == 0 {
		return ""
	}
	return cs[len(cs)-1].Body
}
