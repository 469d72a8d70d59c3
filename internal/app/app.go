// Package app wires the email-hook commands together.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"email-hook-go/internal/config"
	"email-hook-go/internal/version"
)

// Commands understood by Run.
const (
	CommandInit   = "init"
	CommandIngest = "ingest"
	CommandWorker = "worker"
	CommandPoll   = "poll"
)

// Options carries what the command line provides.
type Options struct {
	Command    string
	ConfigPath string
	LogLevel   string
	// Routes are seed routes for init, see ParseRouteSpec.
	Routes []string
	// Stdin is the raw email for ingest.
	Stdin io.Reader
}

// Run loads the configuration and executes the requested command until it
// completes or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"command": opts.Command,
		"version": version.Version,
	}).Debug("Starting email-hook")

	switch opts.Command {
	case CommandInit:
		return runInit(ctx, cfg, opts.Routes)
	case CommandIngest:
		stdin := opts.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return runIngest(ctx, cfg, stdin)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandPoll:
		return runPoll(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q", opts.Command)
	}
}

// setupLogging configures the standard logger. Output goes to stderr so
// ingest never writes to the MTA pipe.
func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
