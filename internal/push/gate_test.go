package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tilly/api/internal/store"
)

func TestParseClock(t *testing.T) {
	minutes, err := ParseClock("08:30")
	require.NoError(t, err)
	require.Equal(t, 510, minutes)

	for _, bad := range []string{"", "8", "24:00", "12:60", "12:5", "ab:cd"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestLoadLocationFallsBackToUTC(t *testing.T) {
	require.Equal(t, time.UTC, LoadLocation(""))
	require.Equal(t, time.UTC, LoadLocation("Mars/Olympus"))
	require.Equal(t, "Europe/Berlin", LoadLocation("Europe/Berlin").String())
}

func TestShouldDeliver(t *testing.T) {
	now := time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC) // 12:30 in Berlin
	enabled := []store.PushDevice{{ID: "dev_1", IsEnabled: true}}
	yesterday := now.Add(-24 * time.Hour)
	earlierToday := now.Add(-time.Hour)

	cases := []struct {
		name     string
		settings store.NotificationSettings
		devices  []store.PushDevice
		want     Decision
	}{
		{
			name:     "before configured time",
			settings: store.NotificationSettings{Timezone: "Europe/Berlin", NotificationTime: "13:00"},
			devices:  enabled,
			want:     DecisionTooEarly,
		},
		{
			name:     "already delivered today",
			settings: store.NotificationSettings{Timezone: "Europe/Berlin", NotificationTime: "12:00", LastDeliveredAt: &earlierToday},
			devices:  enabled,
			want:     DecisionAlreadyDelivered,
		},
		{
			name:     "no enabled devices",
			settings: store.NotificationSettings{Timezone: "Europe/Berlin", NotificationTime: "12:00"},
			devices:  []store.PushDevice{{ID: "dev_1"}},
			want:     DecisionNoDevices,
		},
		{
			name:     "delivered yesterday",
			settings: store.NotificationSettings{Timezone: "Europe/Berlin", NotificationTime: "12:00", LastDeliveredAt: &yesterday},
			devices:  enabled,
			want:     DecisionDeliver,
		},
		{
			name:     "invalid time uses default",
			settings: store.NotificationSettings{Timezone: "Europe/Berlin", NotificationTime: "noon"},
			devices:  enabled,
			want:     DecisionDeliver,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, localDate := ShouldDeliver(tc.settings, tc.devices, now)
			require.Equal(t, tc.want, decision)
			require.Equal(t, "2026-03-10", localDate)
		})
	}
}

func TestShouldDeliverUsesLocalDate(t *testing.T) {
	// 23:30 UTC is already the next day in Tokyo.
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	settings := store.NotificationSettings{Timezone: "Asia/Tokyo", NotificationTime: "08:00"}
	decision, localDate := ShouldDeliver(settings, []store.PushDevice{{IsEnabled: true}}, now)
	require.Equal(t, DecisionDeliver, decision)
	require.Equal(t, "2026-03-11", localDate)
}

func TestReminderPayload(t *testing.T) {
	p := ReminderPayload("de", "https://tilly.example", "user_1", 3)
	require.Equal(t, "3 Erinnerungen sind heute fällig", p.Body)
	require.Equal(t, "https://tilly.example/reminders", p.URL)

	p = ReminderPayload("en", "https://tilly.example", "user_1", 1)
	require.Equal(t, "1 reminder is due today", p.Body)

	raw, err := p.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(raw), `"userId":"user_1"`)
}
