package scheduler

import (
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's own diagnostics into glog.
type cronLogger struct {
	logger glog.Logger
}

func newCronLogger(logger glog.Logger) cron.Logger {
	return cronLogger{logger: glog.Ensure(logger)}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
