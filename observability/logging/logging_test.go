package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "agreementd", Env: "test", Level: "debug", Writer: &buf})
	logger.Debug("valuation refreshed", slog.String("agreement", "0xabc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "valuation refreshed", line["message"])
	require.Equal(t, "agreementd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "0xabc", line["agreement"])
	require.Contains(t, line, "timestamp")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "agreementd", Level: "warn", Writer: &buf})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())

	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	require.Equal(t, slog.LevelError, ParseLevel(" ERROR "))
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskValue("secret-token"))
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer x").Value.String())
	require.Equal(t, "0xabc", MaskField("agreement", "0xabc").Value.String())

	masked := MaskHeaders(map[string]string{"x-api-key": "k", "empty": ""})
	require.Equal(t, RedactedValue, masked["x-api-key"])
	require.Equal(t, "", masked["empty"])
	require.Nil(t, MaskHeaders(nil))
	require.Contains(t, RedactionAllowlist(), "operation")
}

func TestInstallReplacesDefaults(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(previous)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	logger := Install(Options{Service: "agreementctl", Writer: &buf})
	require.Same(t, logger, slog.Default())

	log.Print("bridged line")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "bridged line", line["message"])
	require.Equal(t, "agreementctl", line["service"])

	require.NotNil(t, Setup("agreementctl", "test"))
}
