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

// Package monitor tracks whether the radio is present and powered and
// publishes the shared AdapterState signal.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/signal"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/rs/zerolog/log"
)

type Monitor struct {
	adapter radio.Adapter
	gate    *gate.Gate
	state   *signal.Value[models.AdapterState]
	cancel  context.CancelFunc
	done    chan struct{}
	mu      syncutil.Mutex
}

func New(adapter radio.Adapter, g *gate.Gate) *Monitor {
	initial := models.AdapterDisabled
	if adapter.Power() == radio.PowerOn {
		initial = models.AdapterEnabled
	}
	return &Monitor{
		adapter: adapter,
		gate:    g,
		state:   signal.New(initial),
	}
}

// Start follows OS power changes until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	updates, err := m.adapter.WatchPower(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("watch adapter power: %w", err)
	}
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-updates:
				if !ok {
					return
				}
				m.applyPower(p)
			}
		}
	}(m.done)

	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) applyPower(p radio.Power) {
	prev := m.state.Get()
	next, changed := m.state.UpdateIf(func(cur models.AdapterState) (models.AdapterState, bool) {
		switch {
		case p != radio.PowerOn && cur != models.AdapterDisabled:
			return models.AdapterDisabled, true
		case p == radio.PowerOn && (cur == models.AdapterDisabled || cur == models.AdapterError):
			return models.AdapterEnabled, true
		}
		return cur, false
	})
	if changed {
		log.Info().
			Str("power", p.String()).
			Stringer("from", prev).
			Stringer("to", next).
			Msg("adapter state changed")
	}
}

// IsAdapterPresentAndEnabled polls the radio and refreshes the published
// state to match.
func (m *Monitor) IsAdapterPresentAndEnabled() bool {
	p := m.adapter.Power()
	m.applyPower(p)
	return p == radio.PowerOn
}

// Require returns AdapterUnavailable for op when the radio is not usable.
func (m *Monitor) Require(op string) error {
	if m.IsAdapterPresentAndEnabled() {
		return nil
	}
	return models.NewError(models.ErrAdapterUnavailable, op, nil)
}

// EnableAdapter hands off to the OS to power the radio on and waits for the
// state change, bounded by ctx.
func (m *Monitor) EnableAdapter(ctx context.Context) error {
	const op = "adapter.enable"
	if m.IsAdapterPresentAndEnabled() {
		return nil
	}
	if err := m.gate.Check(op, gate.Connect...); err != nil {
		return err
	}
	if m.adapter.Power() == radio.PowerAbsent {
		return models.NewError(models.ErrAdapterUnavailable, op, radio.ErrNoAdapter)
	}

	if err := m.adapter.RequestEnable(ctx); err != nil {
		if errors.Is(err, radio.ErrAccessDenied) {
			return models.NewError(models.ErrPermissionDenied, op, err)
		}
		return models.NewError(models.ErrAdapterUnavailable, op, err)
	}

	_, err := m.state.WaitFor(ctx, func(s models.AdapterState) bool {
		if s.Usable() {
			return true
		}
		// WatchPower may not be running, poll once per update
		return m.adapter.Power() == radio.PowerOn
	})
	if err != nil {
		if m.IsAdapterPresentAndEnabled() {
			return nil
		}
		return models.NewError(models.ErrAdapterUnavailable, op, err)
	}
	m.applyPower(radio.PowerOn)
	return nil
}

func (m *Monitor) State() models.AdapterState {
	return m.state.Get()
}

// Set publishes a state owned by another component, such as Connecting from
// the Connection Manager.
func (m *Monitor) Set(s models.AdapterState) {
	m.state.Set(s)
}

func (m *Monitor) Subscribe(buffer int) (<-chan models.AdapterState, func()) {
	return m.state.Subscribe(buffer)
}
