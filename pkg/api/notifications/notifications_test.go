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

package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	hsmodels "github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendNotification_NonBlocking(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification)
	done := make(chan struct{})
	go func() {
		PurchaseChanged(ns, models.PurchaseResponse{State: "confirmed"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("notification send blocked on a full queue")
	}
}

func TestNotificationPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		send   func(chan<- models.Notification)
		name   string
		method string
		want   string
	}{
		{
			name:   "adapter",
			send:   func(ns chan<- models.Notification) { AdapterChanged(ns, models.AdapterResponse{State: hsmodels.AdapterEnabled, Enabled: true}) },
			method: models.NotificationAdapterChanged,
			want:   `{"state":"enabled","enabled":true}`,
		},
		{
			name:   "nil devices become empty list",
			send:   func(ns chan<- models.Notification) { DevicesChanged(ns, nil) },
			method: models.NotificationDevicesChanged,
			want:   `[]`,
		},
		{
			name: "devices",
			send: func(ns chan<- models.Notification) {
				DevicesChanged(ns, []hsmodels.PeerDevice{hsmodels.NewPeerDevice("aa:bb:cc:dd:ee:ff", "")})
			},
			method: models.NotificationDevicesChanged,
			want:   `[{"name":"Unknown device","address":"AA:BB:CC:DD:EE:FF","connected":false}]`,
		},
		{
			name: "message",
			send: func(ns chan<- models.Notification) {
				MessagesReceived(ns, models.MessageResponse{Text: "hi", Success: true})
			},
			method: models.NotificationMessagesReceived,
			want:   `{"text":"hi","success":true,"outbound":false}`,
		},
		{
			name: "purchase completed",
			send: func(ns chan<- models.Notification) {
				PurchaseCompleted(ns, models.PurchaseResponse{State: "confirmed", ChatID: "c1", Initiator: true})
			},
			method: models.NotificationPurchaseCompleted,
			want:   `{"chatId":"c1","state":"confirmed","initiator":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ns := make(chan models.Notification, 1)
			tt.send(ns)
			require.Len(t, ns, 1)
			n := <-ns
			assert.Equal(t, tt.method, n.Method)
			assert.True(t, json.Valid(n.Params))
			assert.JSONEq(t, tt.want, string(n.Params))
		})
	}
}
