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

// Package notifications builds the API notifications published for handshake
// state changes.
package notifications

import (
	"encoding/json"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	hsmodels "github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/rs/zerolog/log"
)

// sendNotification marshals payload and queues it without blocking. A full
// queue drops the notification; every payload is a full snapshot, so the
// next one supersedes it.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("error marshalling notification params")
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification queue full, dropping notification")
	}
}

func AdapterChanged(ns chan<- models.Notification, payload models.AdapterResponse) {
	sendNotification(ns, models.NotificationAdapterChanged, payload)
}

func DevicesChanged(ns chan<- models.Notification, devices []hsmodels.PeerDevice) {
	if devices == nil {
		devices = []hsmodels.PeerDevice{}
	}
	sendNotification(ns, models.NotificationDevicesChanged, devices)
}

func DiscoveryChanged(ns chan<- models.Notification, payload models.DiscoveryStatusParams) {
	sendNotification(ns, models.NotificationDiscoveryChanged, payload)
}

func ConnectionChanged(ns chan<- models.Notification, payload models.ConnectionResponse) {
	sendNotification(ns, models.NotificationConnectionChanged, payload)
}

func MessagesReceived(ns chan<- models.Notification, payload models.MessageResponse) {
	sendNotification(ns, models.NotificationMessagesReceived, payload)
}

func PurchaseChanged(ns chan<- models.Notification, payload models.PurchaseResponse) {
	sendNotification(ns, models.NotificationPurchaseChanged, payload)
}

func PurchaseCompleted(ns chan<- models.Notification, payload models.PurchaseResponse) {
	sendNotification(ns, models.NotificationPurchaseCompleted, payload)
}
