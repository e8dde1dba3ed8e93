package assistant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var ErrUnknownDate = errors.New("could not understand date")

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDueDate accepts YYYY-MM-DD or phrases like "next friday" and
// "in 3 days" relative to now, and returns a calendar date in now's location.
func ParseDueDate(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUnknownDate
	}
	if parsed, err := time.ParseInLocation(time.DateOnly, text, now.Location()); err == nil {
		return parsed.Format(time.DateOnly), nil
	}
	switch strings.ToLower(text) {
	case "today":
		return now.Format(time.DateOnly), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(time.DateOnly), nil
	}

	result, err := parser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", text, err)
	}
	if result == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownDate, text)
	}
	return result.Time.In(now.Location()).Format(time.DateOnly), nil
}
