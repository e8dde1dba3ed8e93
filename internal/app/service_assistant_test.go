package app

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tilly/api/internal/assistant"
	"tilly/api/internal/cache"
)

func TestAssistantUnavailableWithoutCompleter(t *testing.T) {
	env := newTestEnv(t, Deps{})
	rr, payload := env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "ASSISTANT_UNAVAILABLE", payload["code"])

	rr, payload = env.do(http.MethodGet, "/api/assistant/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, payload["available"])
}

func TestAssistantConversation(t *testing.T) {
	completer := &fakeCompleter{reply: "Ada likes chess."}
	env := newTestEnv(t, Deps{Assistant: completer, Cache: cache.NewMemory()})
	personID := env.createPerson("alice", "Ada", "Plays #chess on Sundays")
	env.do(http.MethodPost, "/api/people/"+personID+"/reminders", "alice", map[string]any{"text": "Ask about the tournament", "due": "2026-03-09"})
	env.createPerson("bob", "Mallory", "")

	rr, payload := env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": "What does Ada like?"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "Ada likes chess.", object(t, payload, "reply")["content"])
	require.Equal(t, assistant.RoleUser, object(t, payload, "message")["role"])

	require.Contains(t, completer.system, "- Ada: Plays #chess on Sundays")
	require.Contains(t, completer.system, "Ask about the tournament (Ada, due 2026-03-09)")
	require.Contains(t, completer.system, "Tuesday, 2026-03-10")
	require.NotContains(t, completer.system, "Mallory")
	require.Equal(t, []assistant.Turn{{Role: assistant.RoleUser, Content: "What does Ada like?"}}, completer.turns)

	rr, payload = env.do(http.MethodGet, "/api/assistant/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, list(t, payload, "messages"), 2)
	usage := object(t, payload, "usage")
	require.Equal(t, float64(1), usage["used"])
	require.Equal(t, float64(2), usage["limit"])

	rr, payload = env.do(http.MethodDelete, "/api/assistant/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, float64(2), payload["deleted"])
}

func TestAssistantDailyLimit(t *testing.T) {
	env := newTestEnv(t, Deps{Assistant: &fakeCompleter{reply: "ok"}, Cache: cache.NewMemory()})
	for i := 0; i < 2; i++ {
		rr, _ := env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": "hello"})
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr, payload := env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "USAGE_LIMIT", payload["code"])
	require.Equal(t, float64(2), object(t, payload, "details")["limit"])

	// The limit is per user.
	rr, _ = env.do(http.MethodPost, "/api/assistant/messages", "bob", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestAssistantCompletionFailure(t *testing.T) {
	env := newTestEnv(t, Deps{Assistant: &fakeCompleter{err: errors.New("upstream 529")}})
	rr, payload := env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "ASSISTANT_FAILED", payload["code"])

	rr, payload = env.do(http.MethodPost, "/api/assistant/messages", "alice", map[string]any{"content": strings.Repeat("x", maxAssistantMessageLength+1)})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "VALIDATION_ERROR", payload["code"])
}
