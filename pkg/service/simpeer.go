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
	"fmt"
	"sync"
	"time"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/simradio"
	"github.com/rs/zerolog/log"
)

const (
	SimLocalAddress = "02:00:00:00:00:01"
	SimPeerAddress  = "02:00:00:00:00:02"
	SimPeerName     = "Simulated peer"

	relistenDelay = 500 * time.Millisecond
)

// simPeer is the counterpart of the sim backend: a second handshake on the
// same in-memory medium that keeps listening and auto-accepts purchases.
type simPeer struct {
	core   *handshake.Core
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSimRadio(cfg *config.Instance) (radio.Adapter, radioCloser, error) {
	medium := simradio.NewMedium()
	name := cfg.DeviceName()
	if name == "" {
		name = config.AppName
	}
	local := medium.NewAdapter(SimLocalAddress, name)

	opts, err := coreOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts.AutoAccept = true
	opts.AcceptTimeout = 0

	peer, err := startSimPeer(medium.NewAdapter(SimPeerAddress, SimPeerName), opts)
	if err != nil {
		return nil, nil, err
	}
	return local, peer.close, nil
}

//nolint:gocritic // options copied into the peer core
func startSimPeer(adapter radio.Adapter, opts handshake.Options) (*simPeer, error) {
	core := handshake.New(adapter, opts)
	ctx, cancel := context.WithCancel(context.Background())
	if err := core.Start(ctx); err != nil {
		cancel()
		core.Close()
		return nil, fmt.Errorf("failed to start simulated peer: %w", err)
	}

	p := &simPeer{core: core, cancel: cancel}
	updates, unsub := core.Conn.Subscribe(8)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer unsub()
		p.keepListening(ctx, updates)
	}()
	return p, nil
}

func (p *simPeer) keepListening(ctx context.Context, updates <-chan models.ConnectionSnapshot) {
	listen := func() {
		if err := p.core.Conn.StartListening(ctx); err != nil {
			log.Warn().Err(err).Msg("simulated peer: failed to listen")
		}
	}
	listen()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !snap.State.Terminal() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(relistenDelay):
			}
			if p.core.Conn.State().State.Terminal() {
				p.core.Purchase.Reset()
				listen()
			}
		}
	}
}

func (p *simPeer) close() error {
	p.cancel()
	p.wg.Wait()
	p.core.Close()
	return nil
}
