// Package logrus adapts a *logrus.Entry to apicache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/voltadmin/apicache"
)

var _ apicache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) Debug(msg string, f apicache.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f apicache.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f apicache.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f apicache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field to logrus.ErrorKey so formatters treat it as the error.
func (l Logger) with(f apicache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
