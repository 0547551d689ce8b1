package gologger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// SlogProvider hands out glog loggers that write through one slog handler.
// Each logger carries its name in the "logger" attribute.
type SlogProvider struct {
	handler slog.Handler
}

// NewSlogProvider writes JSON (or text when format is "text") at level.
func NewSlogProvider(w io.Writer, format string, level slog.Level) *SlogProvider {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogProvider{handler: handler}
}

// ParseLevel accepts slog level names plus "trace" and "fatal".
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "fatal":
		return LevelFatal, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.handler == nil {
		return glog.Nop()
	}
	return &slogLogger{logger: slog.New(p.handler).With("logger", name), ctx: context.Background()}
}

type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func (l *slogLogger) Trace(msg string, args ...any) { l.logger.Log(l.ctx, LevelTrace, msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.Log(l.ctx, slog.LevelDebug, msg, args...)
}
func (l *slogLogger) Info(msg string, args ...any) { l.logger.Log(l.ctx, slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any) { l.logger.Log(l.ctx, slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.Log(l.ctx, slog.LevelError, msg, args...)
}

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.logger.Log(l.ctx, LevelFatal, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{logger: l.logger, ctx: ctx}
}

var (
	_ glog.Logger         = (*slogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
