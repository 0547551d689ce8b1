package gologger

import (
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// Component names used by the daemon.
const (
	ComponentService     = "service"
	ComponentServer      = "server"
	ComponentWebhooks    = "webhooks"
	ComponentCardNetwork = "cardnetwork"
	ComponentJobs        = "jobs"
)

// Components hands out named loggers for each runtime component, all drawn
// from one provider.
type Components struct {
	name     string
	provider glog.LoggerProvider
	root     glog.Logger
}

// NewComponents resolves with precedence provider > logger > nop.
func NewComponents(name string, provider glog.LoggerProvider, logger glog.Logger) *Components {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "agentpay"
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return &Components{name: name, provider: resolvedProvider, root: resolvedLogger}
}

func (c *Components) Provider() glog.LoggerProvider {
	if c == nil || c.provider == nil {
		return glog.ProviderFromLogger(glog.Nop())
	}
	return c.provider
}

func (c *Components) Root() glog.Logger {
	if c == nil || c.root == nil {
		return glog.Nop()
	}
	return c.root
}

// For returns the logger for component, named "<root>.<component>".
func (c *Components) For(component string) glog.Logger {
	if c == nil || c.provider == nil {
		return glog.Nop()
	}
	component = strings.TrimSpace(component)
	if component == "" {
		return c.Root()
	}
	logger := c.provider.GetLogger(c.name + "." + component)
	if logger == nil {
		return glog.Nop()
	}
	return logger
}
