package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tilly/api/internal/assistant"
	"tilly/api/internal/filter"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

const maxAssistantMessageLength = 4000

func messagePayload(message store.AssistantMessage) map[string]any {
	return map[string]any{
		"id":        message.ID,
		"role":      message.Role,
		"content":   message.Content,
		"createdAt": message.CreatedAt,
	}
}

func (s *Service) historyLimit() int {
	if s.cfg.AssistantHistoryLimit > 0 {
		return s.cfg.AssistantHistoryLimit
	}
	return 20
}

func (s *Service) ListAssistantMessages(ctx context.Context, session Session) (map[string]any, error) {
	messages, err := s.store.ListAssistantMessages(ctx, session.UserID, 200)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		items = append(items, messagePayload(message))
	}
	response := map[string]any{"messages": items, "available": s.assistant != nil}
	if s.cache != nil {
		today := s.userToday(ctx, session.UserID)
		if used, err := s.cache.Usage(ctx, session.UserID, today); err == nil {
			response["usage"] = map[string]any{"used": used, "limit": s.cfg.AssistantDailyLimit}
		}
	}
	return response, nil
}

func (s *Service) ClearAssistantMessages(ctx context.Context, session Session) (map[string]any, error) {
	deleted, err := s.store.DeleteAssistantMessages(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

// SendAssistantMessage stores the user's message, asks the model for a reply
// grounded in the user's people and due reminders, and stores the reply.
func (s *Service) SendAssistantMessage(ctx context.Context, session Session, content string) (map[string]any, error) {
	if s.assistant == nil {
		return nil, unavailable("ASSISTANT_UNAVAILABLE", "Assistant is not configured")
	}
	content = trimmed(content)
	if content == "" {
		return nil, validationError("content is required")
	}
	if len([]rune(content)) > maxAssistantMessageLength {
		return nil, validationError(fmt.Sprintf("content must be at most %d characters", maxAssistantMessageLength))
	}

	now, language := s.userNow(ctx, session.UserID)
	today := now.Format(time.DateOnly)
	if s.cache != nil && s.cfg.AssistantDailyLimit > 0 {
		used, err := s.cache.IncrementUsage(ctx, session.UserID, today)
		if err != nil {
			return nil, fmt.Errorf("count assistant usage: %w", err)
		}
		if used > int64(s.cfg.AssistantDailyLimit) {
			s.metrics.ObserveAssistant("limited")
			return nil, domainError(http.StatusTooManyRequests, "USAGE_LIMIT", "Daily assistant limit reached", map[string]any{
				"limit": s.cfg.AssistantDailyLimit,
			})
		}
	}

	question, err := s.store.InsertAssistantMessage(ctx, store.AssistantMessage{
		ID:      util.NewID(util.PrefixMessage),
		UserID:  session.UserID,
		Role:    assistant.RoleUser,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	prompt, err := s.assistantPrompt(ctx, session, now, language)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListAssistantMessages(ctx, session.UserID, s.historyLimit())
	if err != nil {
		return nil, err
	}
	text, err := s.assistant.Complete(ctx, prompt, assistant.HistoryTurns(history))
	if err != nil {
		s.metrics.ObserveAssistant("error")
		logger(ctx).Error("assistant completion failed", "userId", session.UserID, "err", err)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domainError(http.StatusBadGateway, "ASSISTANT_FAILED", "Assistant did not answer", nil)
	}
	reply, err := s.store.InsertAssistantMessage(ctx, store.AssistantMessage{
		ID:      util.NewID(util.PrefixMessage),
		UserID:  session.UserID,
		Role:    assistant.RoleAssistant,
		Content: text,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveAssistant("ok")
	return map[string]any{
		"message": messagePayload(question),
		"reply":   messagePayload(reply),
	}, nil
}

func (s *Service) assistantPrompt(ctx context.Context, session Session, now time.Time, language string) (string, error) {
	people, err := s.store.ListPeopleForUser(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	entries, err := s.reminderEntries(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	today := now.Format(time.DateOnly)
	return assistant.SystemPrompt(assistant.PromptContext{
		Now:      now,
		Language: language,
		People:   filter.FilterPeople(people, "", filter.Options{Status: filter.StatusActive}),
		Due:      filter.DueReminders(entries, today),
	}), nil
}

// ResolveDueDate turns a phrase like "in 3 days" into a calendar date in the
// user's timezone.
func (s *Service) ResolveDueDate(ctx context.Context, session Session, text string) (map[string]any, error) {
	due, err := s.resolveDue(ctx, session.UserID, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"date": due}, nil
}
