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

package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/campusmarket/handshake-core/pkg/config"
)

// Paths are the directories the service reads and writes. TempDir holds
// the pid file and LogDir the rotated log.
type Paths struct {
	ConfigDir string
	DataDir   string
	LogDir    string
	TempDir   string
}

// DefaultPaths follows the XDG base directory spec.
func DefaultPaths() Paths {
	return Paths{
		ConfigDir: filepath.Join(xdg.ConfigHome, config.AppName),
		DataDir:   filepath.Join(xdg.DataHome, config.AppName),
		LogDir:    filepath.Join(xdg.StateHome, config.AppName),
		TempDir:   filepath.Join(os.TempDir(), config.AppName),
	}
}

func EnsureDirectories(p Paths) error {
	if err := os.MkdirAll(p.TempDir, 0o750); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	if err := os.MkdirAll(p.LogDir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}
