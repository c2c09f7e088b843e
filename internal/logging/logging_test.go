package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/config"
)

func TestNewBackendsWriteJSON(t *testing.T) {
	for _, backend := range []string{"zap", "logrus", "slog", ""} {
		t.Run("backend="+backend, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(config.Logging{Backend: backend, Level: "info", Format: "json"}, &buf)
			require.NoError(t, err)
			require.NotNil(t, l.Slog)

			l.Info("cache ready", apicache.Fields{"entries": 3})
			l.Debug("hidden", nil)
			require.NoError(t, l.Sync())

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, 1)
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
			require.EqualValues(t, 3, rec["entries"])
		})
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.Logging{Backend: "logrus", Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	l.Debug("gc sweep", apicache.Fields{"collected": 1})
	require.Contains(t, buf.String(), "gc sweep")
	require.Contains(t, buf.String(), "collected=1")
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New(config.Logging{Level: "verbose"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = New(config.Logging{Format: "binary"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = New(config.Logging{Backend: "glog"}, &bytes.Buffer{})
	require.Error(t, err)
}
