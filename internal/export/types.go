// Package export renders everything a user can read as JSON or Markdown.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", ErrUnsupportedFormat
}

type Request struct {
	UserID string
	Format Format
	// IncludeDeleted also exports soft-deleted records.
	IncludeDeleted bool
}

// Bundle is the JSON document and the input for the Markdown template.
type Bundle struct {
	ExportedAt time.Time `json:"exportedAt"`
	People     []Person  `json:"people"`
}

type Person struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Summary   string     `json:"summary"`
	Tags      []string   `json:"tags"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Notes     []Note     `json:"notes"`
	Reminders []Reminder `json:"reminders"`
}

type Note struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Pinned    bool       `json:"pinned"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Reminder struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	DueAtDate string     `json:"dueAtDate"`
	Repeat    string     `json:"repeat,omitempty"`
	Done      bool       `json:"done"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}
