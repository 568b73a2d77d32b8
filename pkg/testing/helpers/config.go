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
	"testing"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// NewTestConfig returns a config backed by an in-memory filesystem, using
// the sim radio and an ephemeral API port.
func NewTestConfig(t *testing.T) *config.Instance {
	t.Helper()
	return NewTestConfigFS(t, afero.NewMemMapFs())
}

// NewTestConfigFS is NewTestConfig on a caller supplied filesystem, for tests
// that inspect the written config file.
func NewTestConfigFS(t *testing.T, fs afero.Fs) *config.Instance {
	t.Helper()
	cfg, err := config.NewConfig(fs, "/config", config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetAPIPort(0)
	cfg.SetRadioBackend(config.RadioBackendSim)
	return cfg
}
