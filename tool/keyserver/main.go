/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command keyserver runs the public OpenPGP key server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/config"
	"github.com/gravitational/keyserver/lib/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("Key server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("keyserver", "Public OpenPGP key server with email verification.")
	app.Version(keyserver.Version)
	debug := app.Flag("debug", "Enable verbose logging.").Short('d').Bool()

	start := app.Command("start", "Start the key server.")
	configPath := start.Flag("config", "Path to a YAML configuration file.").
		Short('c').String()

	configure := app.Command("configure", "Print a sample configuration file.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	switch command {
	case start.FullCommand():
		return trace.Wrap(onStart(*configPath, *debug))
	case configure.FullCommand():
		fmt.Print(config.SampleConfig())
		return nil
	}
	return trace.BadParameter("unknown command %q", command)
}

func onStart(configPath string, debug bool) error {
	var cfg config.Config
	cfg.Debug = debug
	if configPath != "" {
		fc, err := config.ReadConfigFile(configPath)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := config.Apply(fc, &cfg); err != nil {
			return trace.Wrap(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(svc.Run(ctx))
}
