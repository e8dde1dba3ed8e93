package email

import (
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "hi@tilly.app"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "hi@tilly.app"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "hi@tilly.app"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, NewService(tt.config).IsConfigured())
		})
	}

	var nilService *Service
	require.False(t, nilService.IsConfigured())
}

func TestSendInviteNotConfigured(t *testing.T) {
	err := NewService(Config{}).SendInvite("a@example.com", InviteData{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendInvite(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "hi@tilly.app", FromName: "Tilly"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.sendMail = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := svc.SendInvite(" ben@example.com ", InviteData{
		InviterName: "Anna",
		PersonName:  "Grandma",
		InviteURL:   "https://tilly.example/invite#tok",
		Role:        "writer",
	})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"ben@example.com"}, gotTo)
	require.Contains(t, gotMsg, "From: Tilly <hi@tilly.app>\r\n")
	require.Contains(t, gotMsg, "Subject: Anna shared Grandma with you on Tilly\r\n")
	require.Contains(t, gotMsg, "https://tilly.example/invite#tok")
	require.True(t, strings.HasSuffix(gotMsg, "--tilly-boundary--\r\n"))
}

func TestSendInviteRejectsHeaderInjection(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "hi@tilly.app"})
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("must not send")
		return nil
	}
	require.Error(t, svc.SendInvite("a@example.com\r\nBcc: x@example.com", InviteData{}))
}

func TestRenderInviteGerman(t *testing.T) {
	subject, text, html, err := renderInvite(InviteData{
		PersonName: "Oma",
		InviteURL:  "https://tilly.example/invite#tok",
		Role:       "reader",
		Language:   "de",
	})
	require.NoError(t, err)
	require.Equal(t, "Someone hat Oma auf Tilly mit dir geteilt", subject)
	require.Contains(t, text, "https://tilly.example/invite#tok")
	require.Contains(t, html, "Einladung annehmen")
	require.NotContains(t, html, "und hinzufügen")
}
