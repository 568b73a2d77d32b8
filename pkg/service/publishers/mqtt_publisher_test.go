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

package publishers

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(filter ...string) (*MQTTPublisher, *fakeBroker) {
	broker := newFakeBroker()
	p := NewMQTTPublisher(config.MQTTPublisher{
		Broker: "localhost:1883",
		Topic:  "campus/handshake/",
		Filter: filter,
	})
	p.newClient = func(_ *mqtt.ClientOptions) mqtt.Client { return broker }
	return p, broker
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestMatchesFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		filter []string
		want   bool
	}{
		{name: "empty filter", method: models.NotificationPurchaseCompleted, want: true},
		{
			name:   "exact",
			method: models.NotificationPurchaseCompleted,
			filter: []string{models.NotificationPurchaseCompleted},
			want:   true,
		},
		{
			name:   "not listed",
			method: models.NotificationDevicesChanged,
			filter: []string{models.NotificationPurchaseCompleted},
			want:   false,
		},
		{name: "prefix", method: models.NotificationPurchaseChanged, filter: []string{"purchase.*"}, want: true},
		{name: "prefix needs dot", method: "purchaseX.changed", filter: []string{"purchase.*"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newTestPublisher(tt.filter...)
			assert.Equal(t, tt.want, p.matchesFilter(tt.method))
		})
	}
}

func TestStart_ConnectError(t *testing.T) {
	t.Parallel()

	p, broker := newTestPublisher()
	broker.connectError = errors.New("refused")

	err := p.Start(make(chan models.Notification))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localhost:1883")
	p.Stop()
}

func TestPublish_TopicAndPayload(t *testing.T) {
	t.Parallel()

	p, broker := newTestPublisher()
	notifications := make(chan models.Notification, 2)
	require.NoError(t, p.Start(notifications))

	notifications <- models.Notification{
		Method: models.NotificationPurchaseCompleted,
		Params: json.RawMessage(`{"chatId":"chat-1","state":"confirmed"}`),
	}
	notifications <- models.Notification{Method: models.NotificationDevicesChanged}

	require.Eventually(t, func() bool { return len(broker.published()) == 2 }, time.Second, 5*time.Millisecond)
	p.Stop()

	msgs := broker.published()
	assert.Equal(t, "campus/handshake/purchase.completed", msgs[0].topic)
	assert.JSONEq(t, `{"chatId":"chat-1","state":"confirmed"}`, string(msgs[0].payload))
	assert.Equal(t, "null", string(msgs[1].payload))
	assert.Equal(t, 1, broker.disconnectCall)
}

func TestPublish_Filtered(t *testing.T) {
	t.Parallel()

	p, broker := newTestPublisher(models.NotificationPurchaseCompleted)
	require.NoError(t, p.Start(make(chan models.Notification)))
	defer p.Stop()

	require.NoError(t, p.Publish(models.Notification{Method: models.NotificationAdapterChanged}))
	assert.Empty(t, broker.published())
}

func TestPublish_Errors(t *testing.T) {
	t.Parallel()

	p, broker := newTestPublisher()
	require.NoError(t, p.Start(make(chan models.Notification)))
	defer p.Stop()

	broker.mu.Lock()
	broker.publishError = errors.New("broker gone")
	broker.mu.Unlock()
	err := p.Publish(models.Notification{Method: models.NotificationPurchaseChanged})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purchase.changed")

	broker.mu.Lock()
	broker.publishError = nil
	broker.publishHang = true
	broker.mu.Unlock()
	err = p.Publish(models.Notification{Method: models.NotificationPurchaseChanged})
	require.ErrorIs(t, err, ErrPublishTimeout)
}

func TestStop_ChannelClosed(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher()
	notifications := make(chan models.Notification)
	require.NoError(t, p.Start(notifications))
	close(notifications)

	select {
	case <-p.doneCh:
	case <-time.After(time.Second):
		require.FailNow(t, "publisher did not exit")
	}
	p.Stop()
	p.Stop()
}
