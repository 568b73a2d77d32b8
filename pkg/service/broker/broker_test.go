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

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for notification")
	}
	return models.Notification{}
}

func TestBroker_SubscribeIDs(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	_, id1 := b.Subscribe(1)
	_, id2 := b.Subscribe(1)
	assert.Equal(t, 0, id1)
	assert.Equal(t, 1, id2)
	assert.Len(t, b.subscribers, 2)
}

func TestBroker_FanOut(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := NewBroker(context.Background(), source)
	a, _ := b.Subscribe(4)
	c, _ := b.Subscribe(4)
	b.Start()

	source <- models.Notification{Method: models.NotificationPurchaseChanged}
	assert.Equal(t, models.NotificationPurchaseChanged, recv(t, a).Method)
	assert.Equal(t, models.NotificationPurchaseChanged, recv(t, c).Method)

	close(source)
	<-b.Done()
	_, ok := <-a
	assert.False(t, ok)
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := NewBroker(context.Background(), source)
	slow, _ := b.Subscribe(1)
	fast, _ := b.Subscribe(8)
	b.Start()

	for range 5 {
		source <- models.Notification{Method: models.NotificationDevicesChanged}
	}
	for range 5 {
		recv(t, fast)
	}
	recv(t, slow)

	b.mu.RLock()
	dropped := b.subscribers[0].dropped
	b.mu.RUnlock()
	assert.Equal(t, 4, dropped)
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	ch, id := b.Subscribe(1)
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Empty(t, b.subscribers)
}

func TestBroker_ContextCancelStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(ctx, make(chan models.Notification))
	ch, _ := b.Subscribe(1)
	b.Start()
	cancel()

	<-b.Done()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
	b.Stop()
}
