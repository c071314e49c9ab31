package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,bad, =x,tenant=risk")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "risk"}, headers)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318/",
		"OTEL_EXPORTER_OTLP_HEADERS":  "api-key=abc",
		"OTEL_SERVICE_NAME":           "agreementd-canary",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg := applyEnv(Config{ServiceName: "agreementd", Endpoint: "localhost:4318"}, lookup)
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.True(t, cfg.Insecure)
	require.Equal(t, "abc", cfg.Headers["api-key"])
	require.Equal(t, "agreementd-canary", cfg.ServiceName)
}
