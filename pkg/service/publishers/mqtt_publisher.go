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

// Package publishers forwards service notifications to external systems.
package publishers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	disconnectWait = 250
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTPublisher publishes each notification's params to <topic>/<method>.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	stopCh    chan struct{}
	doneCh    chan struct{}
	broker    string
	topic     string
	filter    []string
	stopOnce  sync.Once
}

// NewMQTTPublisher builds a publisher from its config entry. An empty filter
// publishes everything; entries ending in ".*" match a method prefix.
//
//nolint:gocritic // config entry copied once
func NewMQTTPublisher(cfg config.MQTTPublisher) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    cfg.Broker,
		topic:     strings.TrimSuffix(cfg.Topic, "/"),
		filter:    cfg.Filter,
		newClient: mqtt.NewClient,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Start connects to the broker and forwards notifications until Stop or
// until notifications is closed.
func (p *MQTTPublisher) Start(notifications <-chan models.Notification) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.broker))
	opts.SetClientID("handshake-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", p.broker).Msg("mqtt publisher: connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", p.broker).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timed out", p.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.broker, err)
	}

	log.Info().Str("broker", p.broker).Str("topic", p.topic).Msg("mqtt publisher: started")
	go p.publishNotifications(notifications)
	return nil
}

// Stop disconnects from the broker and waits for the forwarding loop.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.client == nil {
			return
		}
		<-p.doneCh
		if p.client.IsConnected() {
			log.Debug().Msg("mqtt publisher: disconnecting")
			p.client.Disconnect(disconnectWait)
		}
	})
}

func (p *MQTTPublisher) publishNotifications(notifications <-chan models.Notification) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case notif, ok := <-notifications:
			if !ok {
				log.Debug().Msg("mqtt publisher: notification channel closed")
				return
			}
			if err := p.Publish(notif); err != nil {
				log.Error().Err(err).Str("method", notif.Method).Msg("mqtt publisher: failed to publish")
			}
		}
	}
}

// Publish sends one notification if it passes the filter.
//
//nolint:gocritic // notification is small
func (p *MQTTPublisher) Publish(notif models.Notification) error {
	if !p.matchesFilter(notif.Method) {
		return nil
	}

	payload := []byte(notif.Params)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	topic := p.topic + "/" + notif.Method
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Msg("mqtt publisher: published notification")
	return nil
}

func (p *MQTTPublisher) matchesFilter(method string) bool {
	if len(p.filter) == 0 {
		return true
	}
	for _, f := range p.filter {
		if prefix, ok := strings.CutSuffix(f, ".*"); ok {
			if strings.HasPrefix(method, prefix+".") {
				return true
			}
			continue
		}
		if f == method {
			return true
		}
	}
	return false
}
