// Handshake Core
// Copyright (c) 2026 The Campus Market Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Handshake Core.
//
// Handshake Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Handshake Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Handshake Core.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/campusmarket/handshake-core/pkg/cli"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/helpers"
	"github.com/campusmarket/handshake-core/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()

	daemonMode := flag.Bool(
		"daemon",
		false,
		"run service in foreground",
	)
	doStart := flag.Bool(
		"start",
		false,
		"start service in the background",
	)
	doStop := flag.Bool(
		"stop",
		false,
		"stop the background service",
	)
	doStatus := flag.Bool(
		"status",
		false,
		"print whether the service is running",
	)

	flags.Pre()

	if os.Geteuid() == 0 {
		return errors.New("handshake cannot be run as root")
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}

	paths := helpers.DefaultPaths()
	cfg := cli.Setup(paths, config.BaseDefaults, logWriters)

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	flags.Post(cfg)

	// cancelled when the service stops by itself
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := helpers.NewService(helpers.ServiceArgs{
		Entry: func() (func() error, error) {
			stop, done, err := service.Start(cfg)
			if err != nil {
				return nil, fmt.Errorf("error starting service: %w", err)
			}
			go func() {
				<-done
				cancel()
			}()
			return stop, nil
		},
		Paths:      paths,
		ConfigPath: cfg.Path(),
	})
	if err != nil {
		return fmt.Errorf("error creating service: %w", err)
	}

	switch {
	case *doStart:
		if err := svc.Start("-daemon"); err != nil {
			return fmt.Errorf("error starting service: %w", err)
		}
		_, _ = fmt.Println("Service started")
		return nil
	case *doStop:
		if err := svc.Stop(); err != nil {
			return fmt.Errorf("error stopping service: %w", err)
		}
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer waitCancel()
		if err := svc.WaitStopped(waitCtx); err != nil {
			return err //nolint:wrapcheck // already describes the wait
		}
		_, _ = fmt.Println("Service stopped")
		return nil
	case *doStatus:
		if pid, err := svc.Pid(); err == nil && svc.Running() {
			_, _ = fmt.Printf("Service running (pid %d)\n", pid)
		} else {
			_, _ = fmt.Println("Service not running")
		}
		return nil
	}

	if !*daemonMode {
		_, _ = fmt.Printf("Handshake v%s listening on %s, press Ctrl-C to stop\n",
			config.AppVersion, cfg.APIListen())
	}
	log.Info().Msg("started in foreground mode")

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service exited: %w", err)
	}
	return nil
}
