// Package filter computes the list views the app shows: hashtag list filters,
// status filtering, free-text search and sorting over people, notes and
// reminders. Everything here is pure.
package filter

import (
	"regexp"
	"strings"
)

// A tag starts the text or follows a character that cannot be part of a tag,
// so mail@host#work and C#sharp carry no tags.
var hashtagPattern = regexp.MustCompile(`(^|[^\p{L}\p{N}_-])#([\p{L}\p{N}_-]+)`)

var spaceRun = regexp.MustCompile(`\s+`)

// ExtractHashtags returns the lowercased tags in text without the leading #,
// de-duplicated in order of first appearance.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	tags := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		tag := strings.ToLower(match[2])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// HasHashtag matches whole tags only, so #work does not match #workshop.
func HasHashtag(text, tag string) bool {
	want := NormalizeTag(tag)
	if want == "" {
		return false
	}
	for _, got := range ExtractHashtags(text) {
		if got == want {
			return true
		}
	}
	return false
}

// NormalizeTag lowercases tag and strips any leading #.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "#"))
}

// SetListFilterInQuery replaces whatever list filter query carries with tag.
// An empty tag clears the filter.
func SetListFilterInQuery(query, tag string) string {
	rest := hashtagPattern.ReplaceAllString(query, "${1} ")
	rest = strings.TrimSpace(spaceRun.ReplaceAllString(rest, " "))
	tag = NormalizeTag(tag)
	if tag == "" {
		return rest
	}
	return strings.TrimSpace("#" + tag + " " + rest)
}

// Query is a parsed search string.
type Query struct {
	// ListTag is the first hashtag in the query, lowercased, without #.
	ListTag string
	Text    string
}

func ParseQuery(query string) Query {
	tags := ExtractHashtags(query)
	rest := hashtagPattern.ReplaceAllString(query, "${1} ")
	rest = strings.TrimSpace(spaceRun.ReplaceAllString(rest, " "))
	parsed := Query{Text: strings.ToLower(rest)}
	if len(tags) > 0 {
		parsed.ListTag = tags[0]
	}
	return parsed
}

func (q Query) matchesText(fields ...string) bool {
	if q.Text == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q.Text) {
			return true
		}
	}
	return false
}

func (q Query) matchesList(summary string) bool {
	return q.ListTag == "" || HasHashtag(summary, q.ListTag)
}
