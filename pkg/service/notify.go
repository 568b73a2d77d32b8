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
	"context"
	"sync"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/api/notifications"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	"github.com/campusmarket/handshake-core/pkg/handshake/discovery"
	hsmodels "github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/purchase"
)

const signalBuffer = 16

// forward drains one handshake signal into the notification queue until ctx
// is done or the signal closes.
func forward[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	subscribe func(int) (<-chan T, func()),
	send func(T),
) {
	updates, cancel := subscribe(signalBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-updates:
				if !ok {
					return
				}
				send(v)
			}
		}
	}()
}

// forwardNotifications publishes every handshake signal as an API
// notification. The first value of each signal is the current state, so
// consumers start in sync.
func forwardNotifications(
	ctx context.Context,
	wg *sync.WaitGroup,
	core *handshake.Core,
	ns chan<- models.Notification,
) {
	forward(ctx, wg, core.Monitor.Subscribe, func(s hsmodels.AdapterState) {
		notifications.AdapterChanged(ns, models.AdapterResponse{State: s, Enabled: s.Usable()})
	})
	forward(ctx, wg, core.Discovery.SubscribeDevices, func(ds []hsmodels.PeerDevice) {
		notifications.DevicesChanged(ns, ds)
	})
	forward(ctx, wg, core.Discovery.SubscribeStatus, func(st discovery.Status) {
		notifications.DiscoveryChanged(ns, models.NewDiscoveryStatus(st))
	})
	forward(ctx, wg, core.Conn.Subscribe, func(snap hsmodels.ConnectionSnapshot) {
		notifications.ConnectionChanged(ns, models.NewConnectionResponse(snap, core.Status()))
	})
	// chat text is not a snapshot, so every outcome is queued
	core.Conn.OnOutcome(func(out hsmodels.MessageOutcome) {
		notifications.MessagesReceived(ns, models.NewMessageResponse(out))
	})
	forward(ctx, wg, core.Purchase.Subscribe, func(s purchase.Snapshot) {
		notifications.PurchaseChanged(ns, models.NewPurchaseResponse(s))
	})
	core.Purchase.OnCompleted(func(s purchase.Snapshot) {
		notifications.PurchaseCompleted(ns, models.NewPurchaseResponse(s))
	})
}
