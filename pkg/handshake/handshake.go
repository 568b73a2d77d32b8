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

// Package handshake assembles the purchase handshake components around one
// radio adapter: permission gate, adapter monitor, discovery controller,
// connection manager and purchase machine.
package handshake

import (
	"context"
	"sync"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/connection"
	"github.com/campusmarket/handshake-core/pkg/handshake/discovery"
	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/handshake/purchase"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Clock           clockwork.Clock
	Service         radio.ServiceRecord
	Framing         protocol.Framing
	ConnectTimeout  time.Duration
	AcceptTimeout   time.Duration
	ReadBuffer      int
	ScanTimeout     time.Duration
	DisplayDuration time.Duration
	IncludeBonded   bool
	AutoAccept      bool
}

type Core struct {
	Adapter   radio.Adapter
	Gate      *gate.Gate
	Monitor   *monitor.Monitor
	Discovery *discovery.Controller
	Conn      *connection.Manager
	Purchase  *purchase.Machine
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        syncutil.Mutex
}

//nolint:gocritic // options copied once at construction
func New(adapter radio.Adapter, opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	g := gate.New(adapter)
	mon := monitor.New(adapter, g)
	disc := discovery.New(adapter, g, mon, discovery.Options{
		ScanTimeout:   opts.ScanTimeout,
		IncludeBonded: opts.IncludeBonded,
	})
	mgr := connection.NewManager(adapter, g, mon, connection.Options{
		Clock:          opts.Clock,
		Service:        opts.Service,
		Framing:        opts.Framing,
		ConnectTimeout: opts.ConnectTimeout,
		AcceptTimeout:  opts.AcceptTimeout,
		ReadBuffer:     opts.ReadBuffer,
	})
	machine := purchase.New(mgr, purchase.Options{
		Clock:           opts.Clock,
		DisplayDuration: opts.DisplayDuration,
		AutoAccept:      opts.AutoAccept,
	})
	mgr.OnMessage(machine.HandleMessage)

	return &Core{
		Adapter:   adapter,
		Gate:      g,
		Monitor:   mon,
		Discovery: disc,
		Conn:      mgr,
		Purchase:  machine,
	}
}

// Start follows adapter power and keeps the connected flag of discovered
// devices and any pending purchase in step with the connection.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := c.Monitor.Start(ctx); err != nil {
		// a radio without power events still works, state is polled per call
		log.Warn().Err(err).Msg("adapter power changes will not be followed")
	}
	c.cancel = cancel

	updates, unsub := c.Conn.Subscribe(8)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				c.syncConnected(snap)
			}
		}
	}()
	return nil
}

func (c *Core) syncConnected(snap models.ConnectionSnapshot) {
	if snap.State == models.ConnConnected && snap.Outcome.Device != nil {
		c.Discovery.MarkConnected(snap.Outcome.Device.Address, true)
		return
	}
	c.Discovery.MarkConnected("", false)
	if snap.State.Terminal() {
		c.Purchase.LinkLost(snap.Outcome.Error)
	}
}

// Status is the coarse UI status across adapter, discovery and connection.
func (c *Core) Status() models.ConnectionStatus {
	return models.ProjectStatus(c.Monitor.State(), c.Discovery.Scanning(), c.Conn.State().State)
}

// Cleanup stops discovery, drops any connection and resets the purchase
// machine. Errors are logged and swallowed.
func (c *Core) Cleanup() {
	if err := c.Discovery.StopDiscovery(); err != nil {
		log.Debug().Err(err).Msg("cleanup: stop discovery")
	}
	c.Conn.Disconnect()
	c.Purchase.Reset()
	log.Debug().Msg("handshake cleaned up")
}

// Close releases every socket and waits for all workers to exit.
func (c *Core) Close() {
	c.Purchase.Reset()
	c.Discovery.Close()
	c.Conn.Close()
	c.Monitor.Stop()

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
