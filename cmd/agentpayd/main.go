// Command agentpayd serves the agent payment authorization API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gologgeradapter "github.com/goliatone/go-agentpay/adapters/gologger"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	listen     string
	logLevel   string
	logFormat  string
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "agentpayd: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("agentpayd", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("AGENTPAY_CONFIG"), "path to the TOML config file")
	flags.StringVar(&opts.listen, "listen", "", "listen address, overrides daemon.listen")
	flags.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "json or text")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	file, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(&file.Daemon, opts)

	level, err := gologgeradapter.ParseLevel(file.Daemon.LogLevel)
	if err != nil {
		return err
	}
	provider := gologgeradapter.NewSlogProvider(stderr, file.Daemon.LogFormat, level)
	components := gologgeradapter.NewComponents("agentpayd", provider, nil)
	logger := components.Root()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, file, components)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              file.Daemon.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agentpayd listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), file.Daemon.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func applyOverrides(cfg *daemonConfig, opts options) {
	if v := strings.TrimSpace(opts.listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(opts.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(opts.logFormat); v != "" {
		cfg.LogFormat = v
	}
}
