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

package methods

import (
	"context"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/api/models/requests"
)

func devicesResponse(env requests.RequestEnv) models.DevicesResponse {
	st := env.Core.Discovery.Status()
	return models.DevicesResponse{
		Devices:  env.Core.Discovery.Devices(),
		Pass:     st.Pass,
		Scanning: st.Scanning,
	}
}

// HandleDiscoveryStart begins a new pass. The pass outlives the request and
// ends on discovery.stop, the scan timeout, or when the radio finishes.
func HandleDiscoveryStart(env requests.RequestEnv) (any, error) {
	if err := env.Core.Discovery.StartDiscovery(context.WithoutCancel(env.Context)); err != nil {
		return nil, err
	}
	return devicesResponse(env), nil
}

func HandleDiscoveryStop(env requests.RequestEnv) (any, error) {
	if err := env.Core.Discovery.StopDiscovery(); err != nil {
		return nil, err
	}
	return devicesResponse(env), nil
}

func HandleDevices(env requests.RequestEnv) (any, error) {
	return devicesResponse(env), nil
}
