package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltadmin/apicache/config"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Tracing{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), config.Tracing{Endpoint: "http://192.0.2.1:4318", ServiceName: "chargectl-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
