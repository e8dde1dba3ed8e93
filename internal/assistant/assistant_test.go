package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tilly/api/internal/filter"
	"tilly/api/internal/store"
)

func TestNormalizeTurns(t *testing.T) {
	got := normalizeTurns([]Turn{
		{Role: RoleAssistant, Content: "Hello, how can I help?"},
		{Role: RoleUser, Content: "Who is Anna?"},
		{Role: RoleUser, Content: "  "},
		{Role: RoleUser, Content: "And Ben?"},
		{Role: RoleAssistant, Content: "Anna is your sister."},
		{Role: "system", Content: "treated as user"},
	})
	require.Equal(t, []Turn{
		{Role: RoleUser, Content: "Who is Anna?\n\nAnd Ben?"},
		{Role: RoleAssistant, Content: "Anna is your sister."},
		{Role: RoleUser, Content: "treated as user"},
	}, got)
}

func TestToMessageParamsRequiresUserTurn(t *testing.T) {
	_, err := toMessageParams([]Turn{{Role: RoleAssistant, Content: "hi"}})
	require.Error(t, err)

	params, err := toMessageParams([]Turn{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, params, 1)
}

func TestNewAnthropicCompleterNeedsKey(t *testing.T) {
	_, err := NewAnthropicCompleter(" ", "claude-sonnet-4-5")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSystemPrompt(t *testing.T) {
	anna := store.Person{ID: "per_1", Name: "Anna", Summary: "Sister\n#family"}
	prompt := SystemPrompt(PromptContext{
		Now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Language: "de",
		People:   []store.Person{anna},
		Due: []filter.ReminderEntry{{
			Person:   anna,
			Reminder: store.Reminder{Text: "Call about birthday", DueAtDate: "2026-03-09"},
		}},
	})
	require.Contains(t, prompt, "Today is Tuesday, 2026-03-10.")
	require.Contains(t, prompt, "- Anna: Sister #family")
	require.Contains(t, prompt, "- Call about birthday (Anna, due 2026-03-09)")
	require.Contains(t, prompt, "Reply in German.")
}

func TestSystemPromptEmpty(t *testing.T) {
	prompt := SystemPrompt(PromptContext{Now: time.Now()})
	require.Contains(t, prompt, "## People\n(none)")
	require.Contains(t, prompt, "## Due reminders\n(none)")
}

func TestHistoryTurns(t *testing.T) {
	turns := HistoryTurns([]store.AssistantMessage{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	})
	require.Equal(t, []Turn{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}, turns)
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "äbc", truncateRunes("äbc", 3))
	require.Equal(t, "äb…", truncateRunes("äbcd", 2))
}
