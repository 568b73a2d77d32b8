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
	"fmt"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/api/models/requests"
	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/radio/permissions"
)

func permissionsResponse(env requests.RequestEnv, granted bool) models.PermissionsResponse {
	return models.PermissionsResponse{
		Required: permissions.Required(env.Config.APILevel(), gate.All...),
		Granted:  granted,
	}
}

func HandlePermissions(env requests.RequestEnv) (any, error) {
	return permissionsResponse(env, env.Core.Gate.HasRequiredPermissions()), nil
}

// HandlePermissionsRequest asks the platform for every radio permission.
// The answer may wait on the user.
func HandlePermissionsRequest(env requests.RequestEnv) (any, error) {
	granted, err := env.Core.Gate.RequestPermissions(env.Context)
	if err != nil {
		return nil, fmt.Errorf("error requesting permissions: %w", err)
	}
	return permissionsResponse(env, granted), nil
}

// HandleAdapter polls the radio, so the published adapter state is
// refreshed as a side effect.
func HandleAdapter(env requests.RequestEnv) (any, error) {
	enabled := env.Core.Monitor.IsAdapterPresentAndEnabled()
	return models.AdapterResponse{
		State:   env.Core.Monitor.State(),
		Enabled: enabled,
	}, nil
}

func HandleAdapterEnable(env requests.RequestEnv) (any, error) {
	if err := env.Core.Monitor.EnableAdapter(env.Context); err != nil {
		return nil, err
	}
	return HandleAdapter(env)
}
