package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"email-hook-go/internal/app"
	"email-hook-go/internal/version"
)

const usage = `Usage: email-hook [flags] <command>

Commands:
  init      create or upgrade the database schema
  ingest    read one bounce email from stdin and enqueue its webhooks
  worker    deliver queued webhooks until interrupted
  poll      ingest bounces from an IMAP mailbox until interrupted
  version   print version information

Flags:
`

func main() {
	flags := pflag.NewFlagSet("email-hook", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the settings file (default ./settings.toml)")
	logLevel := flags.String("log-level", "", "override log.level")
	routes := flags.StringArray("route", nil, "seed route for init as TARGET,URL,SECRET (repeatable)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	command := flags.Arg(0)
	if command == "version" {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.Run(ctx, app.Options{
		Command:    command,
		ConfigPath: *configPath,
		LogLevel:   *logLevel,
		Routes:     *routes,
		Stdin:      os.Stdin,
	})
	if err != nil {
		stop()
		logrus.Fatalf("%s failed: %v", command, err)
	}
}
