// Package zap adapts a *zap.Logger to apicache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/voltadmin/apicache"
)

var _ apicache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New wraps l so caller annotations point at apicache, not at this adapter.
func New(l *zap.Logger) Logger { return Logger{L: l.WithOptions(zap.AddCallerSkip(1))} }

func (z Logger) Debug(msg string, f apicache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f apicache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f apicache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f apicache.Fields) { z.L.Error(msg, fields(f)...) }

// fields orders keys so output is stable across runs.
func fields(f apicache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
