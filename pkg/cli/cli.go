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

// Package cli holds the flags and setup shared by the handshake binaries.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/campusmarket/handshake-core/internal/telemetry"
	"github.com/campusmarket/handshake-core/pkg/api/client"
	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/helpers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var errFlagValue = errors.New("flag requires a value")

type Flags struct {
	API     *string
	Connect *string
	Confirm *string
	Wait    *string
	Timeout *time.Duration
	Listen  *bool
	Cleanup *bool
	Version *bool
}

// SetupFlags defines the client flags common to every binary.
func SetupFlags() *Flags {
	return &Flags{
		API: flag.String(
			"api",
			"",
			"send method:params to the API and print the response",
		),
		Connect: flag.String(
			"connect",
			"",
			"connect to the peer at this address",
		),
		Confirm: flag.String(
			"confirm",
			"",
			"send a purchase confirmation for this chat id",
		),
		Wait: flag.String(
			"wait",
			"",
			"print the params of the next notification with this method",
		),
		Timeout: flag.Duration(
			"timeout",
			0,
			"how long -wait waits, 0 for the API default, negative for no limit",
		),
		Listen: flag.Bool(
			"listen",
			false,
			"wait for a peer to connect",
		),
		Cleanup: flag.Bool(
			"cleanup",
			false,
			"stop discovery, disconnect and reset the purchase",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses flags and handles the ones that need no environment. Add any
// custom flags before running this.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("Handshake v%s\n", config.AppVersion)
		os.Exit(0)
	}
}

func marshalParams(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// request turns the passed client flag into an API call. ok is false when
// no client flag was passed.
func (f *Flags) request(passed func(string) bool) (method, params string, ok bool, err error) {
	switch {
	case passed("api"):
		if *f.API == "" {
			return "", "", true, fmt.Errorf("api: %w", errFlagValue)
		}
		method, params, _ = strings.Cut(*f.API, ":")
		return method, params, true, nil
	case passed("connect"):
		if *f.Connect == "" {
			return "", "", true, fmt.Errorf("connect: %w", errFlagValue)
		}
		return models.MethodConnectionConnect, marshalParams(models.ConnectParams{Address: *f.Connect}), true, nil
	case passed("confirm"):
		if *f.Confirm == "" {
			return "", "", true, fmt.Errorf("confirm: %w", errFlagValue)
		}
		return models.MethodPurchaseConfirm, marshalParams(models.ConfirmParams{ChatID: *f.Confirm}), true, nil
	case *f.Listen:
		return models.MethodConnectionListen, "", true, nil
	case *f.Cleanup:
		return models.MethodCleanup, "", true, nil
	default:
		return "", "", false, nil
	}
}

// handle runs the client flags against api and writes the result to out.
// handled is false when no client flag was passed.
func (f *Flags) handle(
	ctx context.Context,
	api client.APIClient,
	passed func(string) bool,
	out io.Writer,
) (handled bool, err error) {
	method, params, ok, err := f.request(passed)
	if err != nil {
		return true, err
	}
	if ok {
		resp, err := api.Call(ctx, method, params)
		if err != nil {
			return true, err //nolint:wrapcheck // already wrapped by the client
		}
		_, _ = fmt.Fprintln(out, resp)
	}

	if passed("wait") {
		if *f.Wait == "" {
			return true, fmt.Errorf("wait: %w", errFlagValue)
		}
		resp, err := api.WaitNotification(ctx, *f.Timeout, *f.Wait)
		if err != nil {
			return true, err //nolint:wrapcheck // already wrapped by the client
		}
		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	}
	return ok, nil
}

// Post runs any client flags against the running service and exits. It
// returns only when no client flag was passed.
func (f *Flags) Post(cfg *config.Instance) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	handled, err := f.handle(ctx, client.NewLocalAPIClient(cfg), isFlagPassed, os.Stdout)
	cancel()
	if !handled {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("error calling API")
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Setup creates the directories, logging, config and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	paths helpers.Paths,
	defaultConfig config.Values,
	writers []io.Writer,
) *config.Instance {
	err := helpers.EnsureDirectories(paths)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	err = helpers.InitLogging(paths, writers)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), paths.ConfigDir, defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	helpers.SetLogLevel(cfg.DebugLogging())

	// opt-in only
	if err := telemetry.Init(telemetry.Options{
		Enabled:    cfg.ErrorReporting(),
		DSN:        cfg.SentryDSN(),
		DeviceID:   cfg.DeviceID(),
		AppVersion: config.AppVersion,
		Backend:    cfg.RadioBackend(),
	}); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg
}
