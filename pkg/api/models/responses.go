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

package models

import (
	"github.com/campusmarket/handshake-core/pkg/handshake/discovery"
	hsmodels "github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/purchase"
)

type VersionResponse struct {
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type PermissionsResponse struct {
	Required []string `json:"required"`
	Granted  bool     `json:"granted"`
}

type AdapterResponse struct {
	State   hsmodels.AdapterState `json:"state"`
	Enabled bool                  `json:"enabled"`
}

type DevicesResponse struct {
	Devices  []hsmodels.PeerDevice `json:"devices"`
	Pass     uint64                `json:"pass"`
	Scanning bool                  `json:"scanning"`
}

type ConnectionResponse struct {
	Outcome hsmodels.ConnectionOutcome `json:"outcome"`
	Status  hsmodels.ConnectionStatus  `json:"status"`
	State   hsmodels.ConnState         `json:"state"`
	Attempt uint64                     `json:"attempt"`
}

type MessageResponse struct {
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
	Success  bool   `json:"success"`
	Outbound bool   `json:"outbound"`
}

type PurchaseResponse struct {
	ChatID    string `json:"chatId,omitempty"`
	Error     string `json:"error,omitempty"`
	State     string `json:"state"`
	Initiator bool   `json:"initiator"`
}

type DiscoveryStatusParams struct {
	Error    string `json:"error,omitempty"`
	Pass     uint64 `json:"pass"`
	Scanning bool   `json:"scanning"`
}

func NewConnectionResponse(snap hsmodels.ConnectionSnapshot, status hsmodels.ConnectionStatus) ConnectionResponse {
	return ConnectionResponse{
		Outcome: snap.Outcome,
		Status:  status,
		State:   snap.State,
		Attempt: snap.Attempt,
	}
}

func NewMessageResponse(out hsmodels.MessageOutcome) MessageResponse {
	return MessageResponse{
		Text:     out.Text,
		Error:    out.Error,
		Success:  out.Success(),
		Outbound: out.Outbound,
	}
}

func NewPurchaseResponse(s purchase.Snapshot) PurchaseResponse {
	return PurchaseResponse{
		ChatID:    s.ChatID,
		Error:     s.Error,
		State:     s.State.String(),
		Initiator: s.Initiator,
	}
}

func NewDiscoveryStatus(s discovery.Status) DiscoveryStatusParams {
	return DiscoveryStatusParams{
		Error:    s.Error,
		Pass:     s.Pass,
		Scanning: s.Scanning,
	}
}
