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

// Package service is the composition root of the handshake daemon: it
// builds the radio backend and the handshake core, then serves them through
// the API and the configured publishers.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api"
	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/service/broker"
	"github.com/campusmarket/handshake-core/pkg/service/publishers"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	notificationQueue = 100
	subscriberBuffer  = 100
	shutdownTimeout   = 5 * time.Second
)

// coreOptions maps the config file onto handshake options.
func coreOptions(cfg *config.Instance) (handshake.Options, error) {
	framing, err := protocol.ParseFraming(cfg.Framing())
	if err != nil {
		return handshake.Options{}, fmt.Errorf("invalid framing: %w", err)
	}
	return handshake.Options{
		Service: radio.ServiceRecord{
			Name: cfg.ServiceName(),
			ID:   cfg.ServiceUUID(),
		},
		Framing:         framing,
		ConnectTimeout:  cfg.ConnectTimeout(),
		AcceptTimeout:   cfg.AcceptTimeout(),
		ReadBuffer:      cfg.ReadBuffer(),
		ScanTimeout:     cfg.ScanTimeout(),
		DisplayDuration: cfg.DisplayDuration(),
		IncludeBonded:   cfg.IncludeBonded(),
		AutoAccept:      cfg.AutoAccept(),
	}, nil
}

func startPublishers(
	cfg *config.Instance,
	b *broker.Broker,
) []*publishers.MQTTPublisher {
	active := make([]*publishers.MQTTPublisher, 0, len(cfg.GetMQTTPublishers()))
	for _, pubCfg := range cfg.GetMQTTPublishers() {
		if pubCfg.Enabled != nil && !*pubCfg.Enabled {
			continue
		}
		pub := publishers.NewMQTTPublisher(pubCfg)
		ns, id := b.Subscribe(subscriberBuffer)
		if err := pub.Start(ns); err != nil {
			log.Error().Err(err).Str("broker", pubCfg.Broker).Msg("failed to start mqtt publisher")
			b.Unsubscribe(id)
			continue
		}
		active = append(active, pub)
	}
	return active
}

// Start brings up the radio, the handshake core, the API server and any
// MQTT publishers. stop releases all of them; done closes once the service
// has fully stopped.
func Start(cfg *config.Instance) (stop func() error, done <-chan struct{}, err error) {
	log.Info().Str("version", config.AppVersion).Msg("starting handshake service")

	opts, err := coreOptions(cfg)
	if err != nil {
		return nil, nil, err
	}

	adapter, closeRadio, err := newRadio(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	core := handshake.New(adapter, opts)
	if err := core.Start(ctx); err != nil {
		cancel()
		core.Close()
		_ = closeRadio()
		return nil, nil, fmt.Errorf("failed to start handshake: %w", err)
	}

	ns := make(chan models.Notification, notificationQueue)
	notifBroker := broker.NewBroker(ctx, ns)

	var fwd sync.WaitGroup
	forwardNotifications(ctx, &fwd, core, ns)
	if err := watchConfig(ctx, &fwd, cfg, applyLiveConfig(core)); err != nil {
		log.Warn().Err(err).Msg("config changes will need a restart")
	}

	apiNotifications, _ := notifBroker.Subscribe(subscriberBuffer)
	srv, err := api.Start(ctx, cfg, core, apiNotifications)
	if err != nil {
		cancel()
		fwd.Wait()
		core.Close()
		_ = closeRadio()
		return nil, nil, fmt.Errorf("failed to start api: %w", err)
	}

	log.Info().Msg("starting publishers")
	activePublishers := startPublishers(cfg, notifBroker)
	notifBroker.Start()

	doneCh := make(chan struct{})
	var once sync.Once
	stop = func() error {
		var stopErr error
		once.Do(func() {
			log.Info().Msg("stopping handshake service")
			var g errgroup.Group
			g.Go(func() error {
				sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer scancel()
				return srv.Shutdown(sctx)
			})
			for _, pub := range activePublishers {
				g.Go(func() error {
					pub.Stop()
					return nil
				})
			}
			stopErr = g.Wait()

			core.Cleanup()
			cancel()
			fwd.Wait()
			<-notifBroker.Done()
			core.Close()
			if err := closeRadio(); err != nil {
				log.Warn().Err(err).Msg("error closing radio")
			}
			close(doneCh)
		})
		return stopErr
	}

	return stop, doneCh, nil
}
