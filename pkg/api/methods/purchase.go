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
)

func purchaseResponse(env requests.RequestEnv) models.PurchaseResponse {
	return models.NewPurchaseResponse(env.Core.Purchase.State())
}

func HandlePurchase(env requests.RequestEnv) (any, error) {
	return purchaseResponse(env), nil
}

func HandlePurchaseConfirm(env requests.RequestEnv) (any, error) {
	var params models.ConfirmParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	if err := env.Core.Purchase.SendPurchaseConfirmation(params.ChatID); err != nil {
		return nil, err
	}
	return purchaseResponse(env), nil
}

// HandlePurchaseAccept answers a confirmation held for the user when auto
// accept is off.
func HandlePurchaseAccept(env requests.RequestEnv) (any, error) {
	if err := env.Core.Purchase.SendPurchaseAccepted(); err != nil {
		return nil, err
	}
	return purchaseResponse(env), nil
}

func HandlePurchaseReject(env requests.RequestEnv) (any, error) {
	if err := env.Core.Purchase.Reject(); err != nil {
		return nil, err
	}
	return purchaseResponse(env), nil
}
