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
	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/api/models/requests"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/rs/zerolog/log"
)

func HandleVersion(env requests.RequestEnv) (any, error) {
	return models.VersionResponse{
		Version: config.AppVersion,
		Backend: env.Config.RadioBackend(),
	}, nil
}

// HandleCleanup stops discovery, drops the connection and resets any
// pending purchase. It never fails.
func HandleCleanup(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received cleanup request")
	env.Core.Cleanup()
	return nil, nil
}
