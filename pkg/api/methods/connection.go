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
	"github.com/campusmarket/handshake-core/pkg/api/validation"
	"github.com/rs/zerolog/log"
)

func connectionResponse(env requests.RequestEnv) models.ConnectionResponse {
	return models.NewConnectionResponse(env.Core.Conn.State(), env.Core.Status())
}

func HandleConnection(env requests.RequestEnv) (any, error) {
	return connectionResponse(env), nil
}

// HandleConnectionListen opens the listening socket and returns; the peer
// arrives later as a connection.changed notification.
func HandleConnectionListen(env requests.RequestEnv) (any, error) {
	if err := env.Core.Conn.StartListening(env.Context); err != nil {
		return nil, err
	}
	return connectionResponse(env), nil
}

func HandleConnectionConnect(env requests.RequestEnv) (any, error) {
	var params models.ConnectParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Info().Str("address", params.Address).Msg("received connect request")
	if err := env.Core.Conn.ConnectToDevice(env.Context, params.Address); err != nil {
		return nil, err
	}
	return connectionResponse(env), nil
}

func HandleConnectionDisconnect(env requests.RequestEnv) (any, error) {
	env.Core.Conn.Disconnect()
	return connectionResponse(env), nil
}

// HandleMessagesSend writes a raw message to the peer. Sending without a
// connection is a stream error.
func HandleMessagesSend(env requests.RequestEnv) (any, error) {
	var params models.SendParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	out, err := env.Core.Conn.Send(params.Text)
	if err != nil {
		return nil, err
	}
	return models.NewMessageResponse(out), nil
}
