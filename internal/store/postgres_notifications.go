package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const selectSettingsSQL = `
	SELECT user_id, timezone, notification_time, language, last_delivered_at, updated_at
	FROM notification_settings`

func scanSettings(row rowScanner) (NotificationSettings, error) {
	var (
		item          NotificationSettings
		lastDelivered sql.NullTime
	)
	if err := row.Scan(&item.UserID, &item.Timezone, &item.NotificationTime, &item.Language, &lastDelivered, &item.UpdatedAt); err != nil {
		return NotificationSettings{}, err
	}
	item.LastDeliveredAt = nullTime(lastDelivered)
	return item, nil
}

func (s *PostgresStore) GetNotificationSettings(ctx context.Context, userID string) (NotificationSettings, error) {
	return scanSettings(s.db.QueryRowContext(ctx, selectSettingsSQL+` WHERE user_id=$1`, userID))
}

// UpsertNotificationSettings never overwrites last_delivered_at.
func (s *PostgresStore) UpsertNotificationSettings(ctx context.Context, item NotificationSettings) (NotificationSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_settings (user_id, timezone, notification_time, language)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET timezone=EXCLUDED.timezone,
			notification_time=EXCLUDED.notification_time,
			language=EXCLUDED.language,
			updated_at=NOW()
		RETURNING user_id, timezone, notification_time, language, last_delivered_at, updated_at
	`, item.UserID, item.Timezone, item.NotificationTime, item.Language)
	item, err := scanSettings(row)
	if err != nil {
		return NotificationSettings{}, fmt.Errorf("upsert notification settings: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListNotificationSettings(ctx context.Context) ([]NotificationSettings, error) {
	rows, err := s.db.QueryContext(ctx, selectSettingsSQL+` ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list notification settings: %w", err)
	}
	defer rows.Close()
	items := make([]NotificationSettings, 0)
	for rows.Next() {
		item, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification settings: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification settings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationDelivered(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notification_settings SET last_delivered_at=$2 WHERE user_id=$1`, userID, at)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

// UpsertPushDevice registers a subscription; re-registering an endpoint moves
// it to the caller and re-enables it.
func (s *PostgresStore) UpsertPushDevice(ctx context.Context, item PushDevice) (PushDevice, error) {
	var out PushDevice
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO push_devices (id, user_id, endpoint, p256dh, auth, device_name, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (endpoint) DO UPDATE
		SET user_id=EXCLUDED.user_id, p256dh=EXCLUDED.p256dh, auth=EXCLUDED.auth,
			device_name=EXCLUDED.device_name, is_enabled=TRUE
		RETURNING id, user_id, endpoint, p256dh, auth, device_name, is_enabled, created_at
	`, item.ID, item.UserID, item.Endpoint, item.P256dh, item.Auth, item.DeviceName).Scan(
		&out.ID, &out.UserID, &out.Endpoint, &out.P256dh, &out.Auth, &out.DeviceName, &out.IsEnabled, &out.CreatedAt,
	)
	if err != nil {
		return PushDevice{}, fmt.Errorf("upsert push device: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPushDevices(ctx context.Context, userID string) ([]PushDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, device_name, is_enabled, created_at
		FROM push_devices
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list push devices: %w", err)
	}
	defer rows.Close()
	items := make([]PushDevice, 0)
	for rows.Next() {
		var item PushDevice
		if err := rows.Scan(&item.ID, &item.UserID, &item.Endpoint, &item.P256dh, &item.Auth, &item.DeviceName, &item.IsEnabled, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push device: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push devices: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeletePushDevice(ctx context.Context, userID, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_devices WHERE id=$1 AND user_id=$2`, deviceID, userID)
	if err != nil {
		return fmt.Errorf("delete push device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DisablePushDevice(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE push_devices SET is_enabled=FALSE WHERE id=$1`, deviceID); err != nil {
		return fmt.Errorf("disable push device: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAssistantMessage(ctx context.Context, item AssistantMessage) (AssistantMessage, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO assistant_messages (id, user_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, item.ID, item.UserID, item.Role, item.Content).Scan(&item.CreatedAt)
	if err != nil {
		return AssistantMessage{}, fmt.Errorf("insert assistant message: %w", err)
	}
	return item, nil
}

// ListAssistantMessages returns the newest limit messages, oldest first.
func (s *PostgresStore) ListAssistantMessages(ctx context.Context, userID string, limit int) ([]AssistantMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, created_at FROM (
			SELECT id, user_id, role, content, created_at
			FROM assistant_messages
			WHERE user_id=$1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assistant messages: %w", err)
	}
	defer rows.Close()
	items := make([]AssistantMessage, 0)
	for rows.Next() {
		var item AssistantMessage
		if err := rows.Scan(&item.ID, &item.UserID, &item.Role, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assistant message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assistant messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAssistantMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistant_messages WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete assistant messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
