package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/voltadmin/apicache"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("filtered", apicache.Fields{"k": "v"})
	l.Info("cache reset", apicache.Fields{"entries": 3})

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("want exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "cache reset" || rec["entries"] != float64(3) || rec["level"] != "INFO" {
		t.Fatalf("record=%v", rec)
	}
}
