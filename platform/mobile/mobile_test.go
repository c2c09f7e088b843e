package mobile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/internal/apitest"
	"github.com/voltadmin/apicache/internal/evapi"
	"github.com/voltadmin/apicache/platform"
)

func config(url, path string) Config {
	return Config{
		Config: platform.Config{
			BaseURL:    url,
			Namespace:  "driver",
			Operations: evapi.Operations(),
			GCInterval: time.Hour,
		},
		Path:           path,
		PersistResults: true,
	}
}

func TestCredentialSurvivesRestart(t *testing.T) {
	api := apitest.New()
	srv := apitest.NewServer(t, api)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := New(ctx, config(srv.URL, path))
	require.NoError(t, err)
	s.SignIn(ctx, api.IssueToken())
	_, err = apicache.Fetch(ctx, s.Client, evapi.GetStation, "A")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = New(ctx, config(srv.URL, path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	require.True(t, s.Authenticated(ctx))
}

func TestPersistedResultsServedOfflineAfterRestart(t *testing.T) {
	api := apitest.New()
	srv := apitest.NewServer(t, api)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := New(ctx, config(srv.URL, path))
	require.NoError(t, err)
	s.SignIn(ctx, api.IssueToken())
	_, err = apicache.Fetch(ctx, s.Client, evapi.GetStation, "B")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	srv.Close()
	s, err = New(ctx, config(srv.URL, path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	st, err := apicache.Fetch(ctx, s.Client, evapi.GetStation, "B")
	require.NoError(t, err)
	require.Equal(t, evapi.StatusOffline, st.Status)
	snap, ok := s.Client.Snapshot(evapi.GetStation.Name, "B")
	require.True(t, ok)
	require.Equal(t, apicache.StatusStale, snap.Status)
}

func TestSignOutClearsDatabase(t *testing.T) {
	api := apitest.New()
	srv := apitest.NewServer(t, api)
	ctx := context.Background()

	s, err := New(ctx, config(srv.URL, ":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	s.SignIn(ctx, api.IssueToken())
	_, err = apicache.Fetch(ctx, s.Client, evapi.GetStation, "A")
	require.NoError(t, err)
	s.SignOut(ctx)
	require.False(t, s.Authenticated(ctx))

	srv.Close()
	_, err = apicache.Fetch(ctx, s.Client, evapi.GetStation, "A")
	require.ErrorIs(t, err, apicache.ErrTransport)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := New(context.Background(), config("http://api.test", ""))
	require.Error(t, err)
}
