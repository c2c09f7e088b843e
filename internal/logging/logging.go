// Package logging builds the process logger from config.Logging.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/config"
	aclogrus "github.com/voltadmin/apicache/log/logrus"
	acslog "github.com/voltadmin/apicache/log/slog"
	aczap "github.com/voltadmin/apicache/log/zap"
)

// Logger pairs the library logger with an slog.Logger at the same level and
// format, for slog-only consumers such as sloghooks.
type Logger struct {
	apicache.Logger
	Slog *slog.Logger

	sync func() error
}

// Sync flushes buffered entries. It is a no-op for unbuffered backends.
func (l Logger) Sync() error {
	if l.sync == nil {
		return nil
	}
	return l.sync()
}

func New(cfg config.Logging, w io.Writer) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return Logger{}, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "", "json":
		format = "json"
	case "text":
	default:
		return Logger{}, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	sl := slog.New(handler).With(slog.String("component", "apicache"))

	switch strings.ToLower(cfg.Backend) {
	case "", "zap":
		zl := newZap(level, format, w)
		return Logger{Logger: aczap.New(zl), Slog: sl, sync: zl.Sync}, nil
	case "logrus":
		return Logger{Logger: aclogrus.New(newLogrus(level, format, w)), Slog: sl}, nil
	case "slog":
		return Logger{Logger: acslog.New(sl), Slog: sl}, nil
	default:
		return Logger{}, fmt.Errorf("logging: unsupported backend %q", cfg.Backend)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unsupported level %q", s)
	}
}

func newZap(level slog.Level, format string, w io.Writer) *zap.Logger {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(ec)
	if format == "text" {
		enc = zapcore.NewConsoleEncoder(ec)
	}
	var zlevel zapcore.Level
	switch level {
	case slog.LevelDebug:
		zlevel = zapcore.DebugLevel
	case slog.LevelWarn:
		zlevel = zapcore.WarnLevel
	case slog.LevelError:
		zlevel = zapcore.ErrorLevel
	default:
		zlevel = zapcore.InfoLevel
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zlevel)
	return zap.New(core).With(zap.String("component", "apicache"))
}

func newLogrus(level slog.Level, format string, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	switch level {
	case slog.LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	case slog.LevelWarn:
		l.SetLevel(logrus.WarnLevel)
	case slog.LevelError:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
