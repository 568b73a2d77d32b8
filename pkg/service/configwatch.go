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

package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	"github.com/campusmarket/handshake-core/pkg/helpers"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchConfig reloads cfg whenever its file is written and hands it to
// apply. The directory is watched so that editors replacing the file by
// rename are picked up. A file that fails to load leaves the previous
// values in place.
func watchConfig(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Instance,
	apply func(*config.Instance),
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	target := filepath.Clean(cfg.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Debug().Err(err).Msg("error closing config watcher")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target ||
					event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := cfg.Load(); err != nil {
					log.Warn().Err(err).Msg("config changed but could not be loaded")
					continue
				}
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	log.Debug().Str("path", target).Msg("watching config file")
	return nil
}

// applyLiveConfig applies the settings that take effect without a restart.
// Radio, connection and API settings are read once at startup.
func applyLiveConfig(core *handshake.Core) func(*config.Instance) {
	return func(cfg *config.Instance) {
		helpers.SetLogLevel(cfg.DebugLogging())
		core.Purchase.SetAutoAccept(cfg.AutoAccept())
		log.Info().
			Bool("debug_logging", cfg.DebugLogging()).
			Bool("auto_accept", cfg.AutoAccept()).
			Msg("config reloaded")
	}
}
