package tracing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so no collector needs to be running.
	shutdown, err := Setup(context.Background(), Options{Endpoint: "127.0.0.1:1", ServiceName: "lorad", Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		endpoint string
		insecure bool
	}{
		{"otel-collector:4318", "otel-collector:4318", true},
		{"http://otel-collector:4318/", "otel-collector:4318", true},
		{"https://collector.example.com", "collector.example.com", false},
	}
	for _, tc := range cases {
		ep, insecure := normalizeEndpoint(tc.in)
		assert.Equal(t, tc.endpoint, ep, tc.in)
		assert.Equal(t, tc.insecure, insecure, tc.in)
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("Authorization=Bearer x, api-key = k ,broken,=v")
	assert.Equal(t, map[string]string{"Authorization": "Bearer x", "api-key": "k"}, got)
	assert.Empty(t, parseHeaders(""))
}
