package sqlstore

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gocraft/dbr/v2"
)

// eventLogger forwards dbr instrumentation to slog. Statements and timings are
// logged at debug level, failures at error level.
type eventLogger struct {
	logger *slog.Logger
}

var _ dbr.EventReceiver = (*eventLogger)(nil)

func (l *eventLogger) Event(eventName string) {
	l.logger.Debug(eventName)
}

func (l *eventLogger) EventKv(eventName string, kvs map[string]string) {
	l.logger.Debug(eventName, kvArgs(kvs)...)
}

func (l *eventLogger) EventErr(eventName string, err error) error {
	l.logger.Error(eventName, "error", err)
	return err
}

func (l *eventLogger) EventErrKv(eventName string, err error, kvs map[string]string) error {
	l.logger.Error(eventName, append(kvArgs(kvs), "error", err)...)
	return err
}

func (l *eventLogger) Timing(eventName string, nanoseconds int64) {
	l.logger.Debug(eventName, "duration", time.Duration(nanoseconds))
}

func (l *eventLogger) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	l.logger.Debug(eventName, append(kvArgs(kvs), "duration", time.Duration(nanoseconds))...)
}

func kvArgs(kvs map[string]string) []any {
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, kvs[k])
	}
	return args
}
