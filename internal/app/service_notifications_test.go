package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func subscription(endpoint string) map[string]any {
	return map[string]any{
		"endpoint":   endpoint,
		"keys":       map[string]any{"p256dh": "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM", "auth": "tBHItJI5svbpez7KI4CCXg"},
		"deviceName": "Pixel",
	}
}

func TestNotificationSettingsDefaults(t *testing.T) {
	env := newTestEnv(t, Deps{})
	env.cfg.VAPIDPublicKey = "public-key"
	env.svc.cfg.VAPIDPublicKey = "public-key"

	rr, payload := env.do(http.MethodGet, "/api/settings/notifications", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	settings := object(t, payload, "settings")
	require.Equal(t, "UTC", settings["timezone"])
	require.Equal(t, "12:00", settings["notificationTime"])
	require.Equal(t, "en", settings["language"])
	require.Empty(t, list(t, payload, "devices"))
	require.Equal(t, "public-key", payload["vapidPublicKey"])
	require.Empty(t, env.store.settings)
}

func TestUpdateNotificationSettings(t *testing.T) {
	env := newTestEnv(t, Deps{})

	rr, payload := env.do(http.MethodPut, "/api/settings/notifications", "alice", map[string]any{
		"timezone":         "Europe/Vienna",
		"notificationTime": "08:30",
		"language":         "de",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	settings := object(t, payload, "settings")
	require.Equal(t, "Europe/Vienna", settings["timezone"])
	require.Equal(t, "08:30", settings["notificationTime"])
	require.Equal(t, "de", settings["language"])

	// Omitted fields keep their stored values.
	_, payload = env.do(http.MethodPut, "/api/settings/notifications", "alice", map[string]any{"language": "en"})
	require.Equal(t, "08:30", object(t, payload, "settings")["notificationTime"])

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "unknown zone", body: map[string]any{"timezone": "Mars/Olympus"}},
		{name: "bad clock", body: map[string]any{"notificationTime": "25:00"}},
		{name: "unsupported language", body: map[string]any{"language": "fr"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := env.do(http.MethodPut, "/api/settings/notifications", "alice", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			require.Equal(t, "VALIDATION_ERROR", payload["code"])
		})
	}
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t, Deps{})

	rr, _ := env.do(http.MethodPost, "/api/settings/devices", "alice", subscription("http://push.example.com/abc"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	missingKeys := subscription("https://push.example.com/abc")
	missingKeys["keys"] = map[string]any{}
	rr, _ = env.do(http.MethodPost, "/api/settings/devices", "alice", missingKeys)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr, payload := env.do(http.MethodPost, "/api/settings/devices", "alice", subscription("https://push.example.com/abc"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	device := object(t, payload, "device")
	require.Equal(t, "Pixel", device["deviceName"])
	require.Equal(t, true, device["isEnabled"])
	require.Contains(t, env.store.settings, "user_alice")

	// Re-registering the same endpoint updates the existing device.
	rr, payload = env.do(http.MethodPost, "/api/settings/devices", "alice", subscription("https://push.example.com/abc"))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, device["id"], object(t, payload, "device")["id"])

	_, payload = env.do(http.MethodGet, "/api/settings/notifications", "alice", nil)
	require.Len(t, list(t, payload, "devices"), 1)

	rr, _ = env.do(http.MethodDelete, "/api/settings/devices/"+device["id"].(string), "bob", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = env.do(http.MethodDelete, "/api/settings/devices/"+device["id"].(string), "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	_, payload = env.do(http.MethodGet, "/api/settings/notifications", "alice", nil)
	require.Empty(t, list(t, payload, "devices"))
}

func TestSendTestPush(t *testing.T) {
	env := newTestEnv(t, Deps{})
	rr, payload := env.do(http.MethodPost, "/api/push/test", "alice", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "PUSH_UNAVAILABLE", payload["code"])

	notifier := &fakeNotifier{}
	env = newTestEnv(t, Deps{Notifier: notifier})
	rr, payload = env.do(http.MethodPost, "/api/push/test", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, float64(1), payload["delivered"])
	require.Equal(t, 1, notifier.probes)
}
