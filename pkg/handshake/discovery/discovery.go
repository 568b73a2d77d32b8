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

// Package discovery runs scan passes and publishes the deduplicated,
// insertion-ordered set of peers found in the current pass.
package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/handshake/signal"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// ScanTimeout ends a pass after this long. Zero waits for the radio to
	// finish, Stop, or cancellation.
	ScanTimeout time.Duration
	// IncludeBonded seeds every pass with the radio's paired devices.
	IncludeBonded bool
}

// Status describes the current or last pass.
type Status struct {
	Error    string `json:"error,omitempty"`
	Pass     uint64 `json:"pass"`
	Scanning bool   `json:"scanning"`
}

type Controller struct {
	adapter radio.Adapter
	gate    *gate.Gate
	monitor *monitor.Monitor
	devices *signal.Value[[]models.PeerDevice]
	status  *signal.Value[Status]
	scan    radio.Scan
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	opts    Options
	pass    uint64
	active  atomic.Uint64
	mu      syncutil.Mutex
}

func New(adapter radio.Adapter, g *gate.Gate, m *monitor.Monitor, opts Options) *Controller {
	return &Controller{
		adapter: adapter,
		gate:    g,
		monitor: m,
		opts:    opts,
		devices: signal.New([]models.PeerDevice{}),
		status:  signal.New(Status{}),
	}
}

// StartDiscovery clears the device set and begins a new pass. A running
// pass is stopped first. The pass ends when ctx is done.
func (c *Controller) StartDiscovery(ctx context.Context) error {
	const op = "discovery.start"
	if err := c.gate.Check(op, gate.Discovery...); err != nil {
		return err
	}
	if err := c.monitor.Require(op); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.pass++
	pass := c.pass
	c.devices.Set([]models.PeerDevice{})
	c.active.Store(pass)

	if c.opts.IncludeBonded {
		c.addBondedLocked()
	}

	var scanCtx context.Context
	var cancel context.CancelFunc
	if c.opts.ScanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, c.opts.ScanTimeout)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}

	scan, err := c.adapter.StartScan(scanCtx, func(d radio.Device) {
		c.found(pass, d)
	})
	if err != nil {
		cancel()
		c.active.Store(0)
		herr := gate.Wrap(op, models.ErrDiscoveryFailed, err)
		c.status.Set(Status{Pass: pass, Error: models.Cause(herr)})
		log.Error().Err(err).Msg("failed to start discovery")
		return herr
	}

	c.scan = scan
	c.cancel = cancel
	c.status.Set(Status{Pass: pass, Scanning: true})
	log.Info().Uint64("pass", pass).Msg("discovery started")

	c.wg.Add(1)
	go c.watch(scanCtx, pass, scan)
	return nil
}

// addBondedLocked publishes paired devices. Reading them needs the connect
// permission on newer platforms, so they are skipped silently without it.
func (c *Controller) addBondedLocked() {
	if !c.gate.HasRequiredPermissions(gate.Connect...) {
		log.Debug().Msg("skipping bonded devices, connect permission missing")
		return
	}
	bonded, err := c.adapter.BondedDevices()
	if err != nil {
		log.Warn().Err(err).Msg("failed to list bonded devices")
		return
	}
	for _, b := range bonded {
		d := models.NewPeerDevice(b.Address, b.Name)
		d.Bonded = true
		c.devices.UpdateIf(func(set []models.PeerDevice) ([]models.PeerDevice, bool) {
			return mergeDevice(set, d)
		})
	}
}

func (c *Controller) watch(ctx context.Context, pass uint64, scan radio.Scan) {
	defer c.wg.Done()

	select {
	case <-scan.Done():
	case <-ctx.Done():
		if err := scan.Stop(); err != nil {
			log.Debug().Err(err).Msg("error stopping scan")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pass != pass || c.scan != scan {
		return
	}
	c.scan = nil
	c.active.Store(0)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	st := Status{Pass: pass}
	if err := scan.Err(); err != nil {
		st.Error = models.Cause(gate.Wrap("discovery", models.ErrDiscoveryFailed, err))
		log.Warn().Err(err).Uint64("pass", pass).Msg("discovery interrupted")
	} else {
		log.Info().
			Uint64("pass", pass).
			Int("devices", len(c.devices.Get())).
			Msg("discovery finished")
	}
	c.status.Set(st)
}

func (c *Controller) found(pass uint64, rd radio.Device) {
	if c.active.Load() != pass {
		return
	}

	d := models.NewPeerDevice(rd.Address, rd.Name)
	if d.Address == "" {
		return
	}
	if _, added := c.devices.UpdateIf(func(set []models.PeerDevice) ([]models.PeerDevice, bool) {
		return mergeDevice(set, d)
	}); added {
		log.Debug().Str("address", d.Address).Str("name", d.Name).Msg("device found")
	}
}

// mergeDevice returns a new set with d applied, or false when d changes
// nothing. Published slices are never modified in place.
func mergeDevice(set []models.PeerDevice, d models.PeerDevice) ([]models.PeerDevice, bool) {
	for i, cur := range set {
		if cur.Address != d.Address {
			continue
		}
		if cur.HasName() || !d.HasName() {
			return set, false
		}
		next := make([]models.PeerDevice, len(set))
		copy(next, set)
		next[i].Name = d.Name
		return next, true
	}
	next := make([]models.PeerDevice, len(set), len(set)+1)
	copy(next, set)
	return append(next, d), true
}

// StopDiscovery ends the running pass. Stopping when nothing is scanning
// succeeds.
func (c *Controller) StopDiscovery() error {
	const op = "discovery.stop"
	if err := c.gate.Check(op, gate.Discovery...); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopLocked() {
		c.status.Set(Status{Pass: c.pass})
		log.Info().Uint64("pass", c.pass).Msg("discovery stopped")
	}
	return nil
}

func (c *Controller) stopLocked() bool {
	if c.scan == nil {
		return false
	}
	scan := c.scan
	c.scan = nil
	c.active.Store(0)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if err := scan.Stop(); err != nil {
		log.Debug().Err(err).Msg("error stopping scan")
	}
	return true
}

// MarkConnected flags address as the connected peer and clears the flag on
// every other device.
func (c *Controller) MarkConnected(address string, connected bool) {
	c.devices.UpdateIf(func(set []models.PeerDevice) ([]models.PeerDevice, bool) {
		changed := false
		next := make([]models.PeerDevice, len(set))
		for i, d := range set {
			want := connected && d.Address == address
			if d.Connected != want {
				changed = true
			}
			d.Connected = want
			next[i] = d
		}
		return next, changed
	})
}

// Close stops any pass and waits for the watcher to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	c.wg.Wait()
	c.status.Update(func(s Status) Status {
		s.Scanning = false
		return s
	})
}

func (c *Controller) Devices() []models.PeerDevice {
	return c.devices.Get()
}

func (c *Controller) Status() Status {
	return c.status.Get()
}

func (c *Controller) Scanning() bool {
	return c.status.Get().Scanning
}

func (c *Controller) SubscribeDevices(buffer int) (<-chan []models.PeerDevice, func()) {
	return c.devices.Subscribe(buffer)
}

func (c *Controller) SubscribeStatus(buffer int) (<-chan Status, func()) {
	return c.status.Subscribe(buffer)
}
