// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point of the pre-upgrade validator run on every
// Nexus Dashboard node.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/cloudzero/preupgrade-validator/app/build"
	"github.com/cloudzero/preupgrade-validator/app/functions/preupgrade-validator/validate"
	"github.com/cloudzero/preupgrade-validator/app/logging"
)

const (
	FlagLogLevel = "log-level"
	FlagConsole  = "console"
	FlagLogOmit  = "log-omit"
)

func main() {
	// the engine turns the cancellation into the interrupted exit path
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:                 build.AppName,
		Version:              fmt.Sprintf("%s/%s-%s", build.GetVersion(), runtime.GOOS, runtime.GOARCH),
		Compiled:             time.Now(),
		Usage:                "validates a Nexus Dashboard node before an upgrade",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: FlagLogLevel, Usage: "the log level", EnvVars: []string{"LOG_LEVEL"}, Value: "info"},
			&cli.BoolFlag{Name: FlagConsole, Usage: "human readable logs instead of JSON"},
			&cli.StringSliceFlag{Name: FlagLogOmit, Usage: "fields dropped from JSON log lines"},
		},
		Before: func(c *cli.Context) error {
			logger, err := logging.NewLogger(
				logging.WithLevel(c.String(FlagLogLevel)),
				logging.WithConsole(c.Bool(FlagConsole)),
				logging.WithSink(sink(c.Bool(FlagConsole), c.StringSlice(FlagLogOmit))),
			)
			if err != nil {
				return fmt.Errorf("failed to create the logger: %w", err)
			}
			zerolog.DefaultContextLogger = logger
			c.Context = logger.WithContext(c.Context)
			return nil
		},
		Commands: validate.NewCommands(),
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Ctx(ctx).Err(err).Msg("validation failed")
		os.Exit(1)
	}
}

// sink filters JSON lines only; the console writer renders its own fields.
func sink(console bool, omit []string) io.Writer {
	if console || len(omit) == 0 {
		return os.Stderr
	}
	return logging.NewFieldFilterWriter(os.Stderr, omit)
}
