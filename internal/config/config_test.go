package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TILLY_DELETED_RETENTION", "")
	t.Setenv("TILLY_APP_URL", "https://tilly.example/")

	cfg := Load()
	require.Equal(t, 30*24*time.Hour, cfg.DeletedRetention)
	require.Equal(t, 7*24*time.Hour, cfg.InviteRetention)
	require.Equal(t, "https://tilly.example", cfg.AppURL)
	require.Equal(t, 50, cfg.AssistantDailyLimit)
}

func TestGetenvDuration(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "36h", want: 36 * time.Hour},
		{name: "seconds", value: "90", want: 90 * time.Second},
		{name: "garbage falls back", value: "soon", want: time.Minute},
		{name: "empty falls back", value: "", want: time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TILLY_TEST_DURATION", tc.value)
			require.Equal(t, tc.want, getenvDuration("TILLY_TEST_DURATION", time.Minute))
		})
	}
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("TILLY_TEST_BOOL", "true")
	require.True(t, getenvBool("TILLY_TEST_BOOL", false))
	t.Setenv("TILLY_TEST_BOOL", "nope")
	require.False(t, getenvBool("TILLY_TEST_BOOL", false))
}
