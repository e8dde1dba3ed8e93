package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPerson   ResultType = "person"
	ResultNote     ResultType = "note"
	ResultReminder ResultType = "reminder"
)

func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "":
		return "", true
	case ResultPerson, ResultNote, ResultReminder:
		return ResultType(value), true
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	PersonID string     `json:"personId"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request. Only records in GroupIDs are visible;
// an empty GroupIDs matches nothing.
type Query struct {
	Text     string
	Type     ResultType // empty = all types
	GroupIDs []string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// PersonRecord is the data we index for a person.
type PersonRecord struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID         string `json:"id"`
	PersonID   string `json:"personId"`
	PersonName string `json:"personName"`
	GroupID    string `json:"groupId"`
	Content    string `json:"content"`
}

// ReminderRecord is the data we index for a reminder.
type ReminderRecord struct {
	ID         string `json:"id"`
	PersonID   string `json:"personId"`
	PersonName string `json:"personName"`
	GroupID    string `json:"groupId"`
	Text       string `json:"text"`
	DueAtDate  string `json:"dueAtDate"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

func (q Query) wants(t ResultType) bool {
	return q.Type == "" || q.Type == t
}
