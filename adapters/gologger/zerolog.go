package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologProvider hands out glog loggers backed by one zerolog root. Each
// logger carries its name in the "logger" field.
type ZerologProvider struct {
	root zerolog.Logger
}

// NewZerologProvider writes JSON to out, or console output when pretty is set.
func NewZerologProvider(out io.Writer, level string, pretty bool) (*ZerologProvider, error) {
	if out == nil {
		out = os.Stderr
	}
	parsed := zerolog.InfoLevel
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(trimmed))
		if err != nil {
			return nil, fmt.Errorf("gologger: invalid level %q: %w", level, err)
		}
		parsed = lvl
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	root := zerolog.New(out).Level(parsed).With().Timestamp().Logger()
	return &ZerologProvider{root: root}, nil
}

func (p *ZerologProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	return &zerologLogger{logger: p.root.With().Str("logger", componentName(name)).Logger()}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Trace(msg string, args ...any) { l.emit(l.logger.Trace(), msg, args) }
func (l *zerologLogger) Debug(msg string, args ...any) { l.emit(l.logger.Debug(), msg, args) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.emit(l.logger.Info(), msg, args) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.emit(l.logger.Warn(), msg, args) }
func (l *zerologLogger) Error(msg string, args ...any) { l.emit(l.logger.Error(), msg, args) }

// Fatal logs at fatal level without exiting; shutdown belongs to the caller.
func (l *zerologLogger) Fatal(msg string, args ...any) {
	l.emit(l.logger.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l *zerologLogger) WithContext(ctx context.Context) glog.Logger {
	return &zerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *zerologLogger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	event.Fields(pairs(args)).Msg(msg)
}

// pairs turns slog-style key/value arguments into zerolog fields. A dangling
// value is kept under "!BADKEY".
func pairs(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		value := args[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		fields[key] = value
	}
	return fields
}

var (
	_ glog.LoggerProvider = (*ZerologProvider)(nil)
	_ glog.Logger         = (*zerologLogger)(nil)
)
