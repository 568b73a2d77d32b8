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
	"time"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeBroker stands in for a paho client. Only connect, publish and
// disconnect do anything.
type fakeBroker struct {
	connectError   error
	publishError   error
	sent           []sentMessage
	disconnectCall int
	connected      bool
	publishHang    bool
	mu             syncutil.Mutex
}

type sentMessage struct {
	topic   string
	payload []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{}
}

func (b *fakeBroker) published() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) IsConnectionOpen() bool { return b.IsConnected() }

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectError != nil {
		return failedToken(b.connectError)
	}
	b.connected = true
	return doneToken()
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnectCall++
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.publishHang:
		return &fakeToken{}
	case b.publishError != nil:
		return failedToken(b.publishError)
	}
	data, _ := payload.([]byte)
	b.sent = append(b.sent, sentMessage{topic: topic, payload: data})
	return doneToken()
}

func (*fakeBroker) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return doneToken() }

func (*fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken()
}

func (*fakeBroker) Unsubscribe(...string) mqtt.Token { return doneToken() }

func (*fakeBroker) AddRoute(string, mqtt.MessageHandler) {}

func (*fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// fakeToken never completes unless done or err is set.
type fakeToken struct {
	err  error
	done bool
}

func doneToken() *fakeToken            { return &fakeToken{done: true} }
func failedToken(err error) *fakeToken { return &fakeToken{err: err} }

func (t *fakeToken) Wait() bool { return t.done || t.err != nil }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done || t.err != nil }

func (*fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }
