package logging

import (
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, log.DebugLevel, ParseLevel("DEBUG"))
	require.Equal(t, log.WarnLevel, ParseLevel(" warn "))
	require.Equal(t, log.InfoLevel, ParseLevel("chatty"))
}

func TestParseFormatter(t *testing.T) {
	require.Equal(t, log.JSONFormatter, ParseFormatter("json"))
	require.Equal(t, log.LogfmtFormatter, ParseFormatter("logfmt"))
	require.Equal(t, log.TextFormatter, ParseFormatter(""))
}

func TestSetupWithFileSink(t *testing.T) {
	prev := log.Default()
	t.Cleanup(func() { log.SetDefault(prev) })

	closer := Setup(Options{Level: "info", Format: "json", File: filepath.Join(t.TempDir(), "tilly.log")})
	log.Info("hello", "component", "test")
	require.NoError(t, closer.Close())
}
