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

// Package broker fans service notifications out to every consumer (API
// websocket clients, MQTT publishers) without letting a slow consumer block
// the handshake.
package broker

import (
	"context"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	ch      chan models.Notification
	dropped int
}

type Broker struct {
	ctx         context.Context
	source      <-chan models.Notification
	subscribers map[int]*subscriber
	done        chan struct{}
	mu          syncutil.RWMutex
	nextID      int
	stopped     bool
}

// NewBroker reads from source once started. Nothing is delivered before
// Start.
func NewBroker(ctx context.Context, source <-chan models.Notification) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]*subscriber),
		done:        make(chan struct{}),
	}
}

// Start runs the fan-out loop until source closes or ctx is done, then
// closes every subscriber channel.
func (b *Broker) Start() {
	go func() {
		defer close(b.done)
		defer b.Stop()
		for {
			select {
			case notif, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					return
				}
				b.broadcast(notif)
			case <-b.ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				return
			}
		}
	}()
}

// Done is closed once the loop started by Start has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) broadcast(notif models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- notif:
			if sub.dropped > 0 {
				log.Info().Int("subscriber_id", id).Int("dropped", sub.dropped).
					Msg("subscriber caught up")
				sub.dropped = 0
			}
		default:
			if sub.dropped == 0 {
				log.Warn().
					Int("subscriber_id", id).
					Str("method", notif.Method).
					Msg("subscriber channel full, dropping notifications")
			}
			sub.dropped++
		}
	}
}

// Subscribe registers a consumer with its own buffer. After Stop the
// returned channel is already closed.
func (b *Broker) Subscribe(bufferSize int) (notifChan <-chan models.Notification, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan models.Notification, bufferSize)
	if b.stopped {
		close(ch)
		return ch, id
	}
	b.subscribers[id] = &subscriber{ch: ch}
	log.Debug().Int("subscriber_id", id).Int("buffer_size", bufferSize).Msg("new subscriber registered")
	return ch, id
}

// Unsubscribe closes the subscription's channel. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

// Stop closes all subscriber channels. Safe to call more than once.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
