package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"time"

	"tilly/api/internal/cache"
	"tilly/api/internal/push"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

type SettingsInput struct {
	Timezone         *string `json:"timezone"`
	NotificationTime *string `json:"notificationTime"`
	Language         *string `json:"language"`
}

type DeviceInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceName string `json:"deviceName"`
}

func defaultSettings(userID string) store.NotificationSettings {
	return store.NotificationSettings{
		UserID:           userID,
		Timezone:         "UTC",
		NotificationTime: push.DefaultNotificationTime,
		Language:         "en",
	}
}

func devicePayload(device store.PushDevice) map[string]any {
	return map[string]any{
		"id":         device.ID,
		"endpoint":   device.Endpoint,
		"deviceName": device.DeviceName,
		"isEnabled":  device.IsEnabled,
		"createdAt":  device.CreatedAt,
	}
}

func (s *Service) loadSettings(ctx context.Context, userID string) (store.NotificationSettings, bool, error) {
	settings, err := s.store.GetNotificationSettings(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultSettings(userID), false, nil
	}
	if err != nil {
		return store.NotificationSettings{}, false, err
	}
	return settings, true, nil
}

func (s *Service) GetNotificationSettings(ctx context.Context, session Session) (map[string]any, error) {
	settings, _, err := s.loadSettings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.settingsResponse(ctx, settings)
}

func (s *Service) settingsResponse(ctx context.Context, settings store.NotificationSettings) (map[string]any, error) {
	devices, err := s.store.ListPushDevices(ctx, settings.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(devices))
	for _, device := range devices {
		items = append(items, devicePayload(device))
	}
	return map[string]any{
		"settings": map[string]any{
			"timezone":         settings.Timezone,
			"notificationTime": settings.NotificationTime,
			"language":         settings.Language,
			"lastDeliveredAt":  settings.LastDeliveredAt,
		},
		"devices":        items,
		"vapidPublicKey": s.cfg.VAPIDPublicKey,
	}, nil
}

func (s *Service) UpdateNotificationSettings(ctx context.Context, session Session, input SettingsInput) (map[string]any, error) {
	settings, _, err := s.loadSettings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if input.Timezone != nil {
		zone := trimmed(*input.Timezone)
		if zone == "" {
			zone = "UTC"
		}
		if _, err := time.LoadLocation(zone); err != nil {
			return nil, validationError("timezone is not a known IANA zone")
		}
		settings.Timezone = zone
	}
	if input.NotificationTime != nil {
		if _, err := push.ParseClock(*input.NotificationTime); err != nil {
			return nil, validationError("notificationTime must be HH:MM")
		}
		settings.NotificationTime = trimmed(*input.NotificationTime)
	}
	if input.Language != nil {
		switch *input.Language {
		case "en", "de":
			settings.Language = *input.Language
		default:
			return nil, validationError("language must be en or de")
		}
	}
	saved, err := s.store.UpsertNotificationSettings(ctx, settings)
	if err != nil {
		return nil, err
	}
	return s.settingsResponse(ctx, saved)
}

// RegisterDevice stores a web push subscription. The first device also
// creates default notification settings so the dispatcher picks the user up.
func (s *Service) RegisterDevice(ctx context.Context, session Session, input DeviceInput) (map[string]any, error) {
	endpoint := trimmed(input.Endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return nil, validationError("endpoint must be an https URL")
	}
	if trimmed(input.Keys.P256dh) == "" || trimmed(input.Keys.Auth) == "" {
		return nil, validationError("keys.p256dh and keys.auth are required")
	}
	settings, exists, err := s.loadSettings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, err := s.store.UpsertNotificationSettings(ctx, settings); err != nil {
			return nil, err
		}
	}
	device, err := s.store.UpsertPushDevice(ctx, store.PushDevice{
		ID:         util.NewID(util.PrefixDevice),
		UserID:     session.UserID,
		Endpoint:   endpoint,
		P256dh:     trimmed(input.Keys.P256dh),
		Auth:       trimmed(input.Keys.Auth),
		DeviceName: trimmed(input.DeviceName),
	})
	if err != nil {
		return nil, err
	}
	logger(ctx).Info("push device registered", "deviceId", device.ID, "userId", session.UserID)
	return map[string]any{"device": devicePayload(device)}, nil
}

func (s *Service) DeleteDevice(ctx context.Context, session Session, deviceID string) (map[string]any, error) {
	if err := s.store.DeletePushDevice(ctx, session.UserID, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Device")
		}
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) SendTestPush(ctx context.Context, session Session) (map[string]any, error) {
	if s.notifier == nil || !s.notifier.Configured() {
		return nil, unavailable("PUSH_UNAVAILABLE", "Web push is not configured")
	}
	settings, _, err := s.loadSettings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	accepted, err := s.notifier.SendProbe(ctx, session.UserID, settings.Language)
	if err != nil {
		return nil, err
	}
	return map[string]any{"delivered": accepted}, nil
}

// DispatchNotifications runs one dispatcher pass for the cron endpoint.
func (s *Service) DispatchNotifications(ctx context.Context) (map[string]any, error) {
	if s.notifier == nil {
		return nil, unavailable("PUSH_UNAVAILABLE", "Web push is not configured")
	}
	summary, err := s.notifier.Run(ctx, s.now())
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		return nil, domainError(http.StatusConflict, "DISPATCH_RUNNING", "A dispatch run is already in progress", nil)
	case errors.Is(err, push.ErrNotConfigured):
		return nil, unavailable("PUSH_UNAVAILABLE", "Web push is not configured")
	case err != nil:
		return nil, err
	}
	return map[string]any{"summary": summary}, nil
}
