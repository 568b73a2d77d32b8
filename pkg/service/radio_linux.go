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

package service

import (
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/bluez"
)

func newBluezRadio(cfg *config.Instance) (radio.Adapter, radioCloser, error) {
	a, err := bluez.New(bluez.Options{
		Adapter: cfg.RadioAdapter(),
		Channel: cfg.RFCOMMChannel(),
	})
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // wrapped by newRadio
	}
	return a, a.Close, nil
}
