package gologger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestNewComponents_ProviderPrecedence(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	components := NewComponents("agentpay", provider, loggerOnly)
	if got := components.Root().(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	components = NewComponents("agentpay", nil, loggerOnly)
	if got := components.Root().(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if components.Provider() == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if NewComponents("", nil, nil).Root() == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestComponents_ForNamesChildLoggers(t *testing.T) {
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}
	components := NewComponents("agentpayd", provider, nil)

	components.For(ComponentWebhooks).Info("delivered", "webhook_id", "wh_1")
	components.For(" " + ComponentCardNetwork + " ").Warn("refresh")

	if len(provider.requested) < 3 {
		t.Fatalf("expected root plus two component lookups, got %v", provider.requested)
	}
	if provider.requested[1] != "agentpayd.webhooks" || provider.requested[2] != "agentpayd.cardnetwork" {
		t.Fatalf("unexpected component names %v", provider.requested)
	}
	captured := provider.logger.lastInfo
	if captured.msg != "delivered" || captured.args[0] != "webhook_id" || captured.args[1] != "wh_1" {
		t.Fatalf("unexpected captured call %+v", captured)
	}
}

func TestComponents_NilSafe(t *testing.T) {
	var components *Components
	if components.For(ComponentServer) == nil || components.Root() == nil || components.Provider() == nil {
		t.Fatalf("expected nop fallbacks on nil components")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger    *capturingLogger
	requested []string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	p.requested = append(p.requested, name)
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}

func TestSlogProvider_NamesLoggersAndFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	provider := NewSlogProvider(&buf, "json", slog.LevelInfo)
	components := NewComponents("agentpayd", provider, nil)

	components.For(ComponentWebhooks).Debug("hidden")
	components.For(ComponentWebhooks).Info("delivered", "webhook_id", "wh_1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["logger"] != "agentpayd.webhooks" || entry["msg"] != "delivered" || entry["webhook_id"] != "wh_1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "trace": LevelTrace, "debug": slog.LevelDebug, "WARN": slog.LevelWarn}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected unknown level rejected")
	}
}
