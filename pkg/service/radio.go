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
	"fmt"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/blescan"
	"github.com/campusmarket/handshake-core/pkg/radio/lanradio"
	"github.com/rs/zerolog/log"
)

// radioCloser releases backend resources once the handshake is closed.
type radioCloser func() error

func noopCloser() error { return nil }

// newRadio builds the configured backend. The returned closer must run after
// every component using the adapter has been closed.
func newRadio(cfg *config.Instance) (radio.Adapter, radioCloser, error) {
	var (
		adapter radio.Adapter
		closer  radioCloser = noopCloser
		err     error
	)

	backend := cfg.RadioBackend()
	switch backend {
	case config.RadioBackendSim:
		adapter, closer, err = newSimRadio(cfg)
	case config.RadioBackendBluez:
		adapter, closer, err = newBluezRadio(cfg)
	default:
		adapter = newLANRadio(cfg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s radio: %w", backend, err)
	}

	if cfg.Scanner() == config.ScannerBLE {
		log.Info().Msg("using ble advertisements for discovery")
		adapter = blescan.Wrap(adapter)
	}

	log.Info().Str("backend", backend).Str("scanner", cfg.Scanner()).Msg("radio ready")
	return adapter, closer, nil
}

func newLANRadio(cfg *config.Instance) *lanradio.Adapter {
	name := cfg.AdvertiseInstanceName()
	if name == "" {
		name = cfg.DeviceName()
	}
	return lanradio.New(lanradio.Options{
		DeviceID:         cfg.DeviceID(),
		Name:             name,
		ListenAddr:       cfg.RadioListenAddr(),
		DisableAdvertise: !cfg.AdvertiseEnabled(),
	})
}
