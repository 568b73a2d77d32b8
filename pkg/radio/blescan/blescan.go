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

// Package blescan replaces a radio backend's discovery with BLE advertisement
// scanning. Sockets, power and permissions still come from the wrapped
// backend; only StartScan and CancelScan are served here.
package blescan

import (
	"context"
	"fmt"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// Result is one advertisement seen by the scanner.
type Result struct {
	Address string
	Name    string
	RSSI    int16
}

// scanner is the part of *bluetooth.Adapter used here. Scan blocks until
// StopScan is called.
type scanner interface {
	Enable() error
	Scan(found func(Result)) error
	StopScan() error
}

type tinygoScanner struct {
	adapter *bluetooth.Adapter
}

func (s tinygoScanner) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("enable ble adapter: %w", err)
	}
	return nil
}

func (s tinygoScanner) Scan(found func(Result)) error {
	err := s.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		found(Result{
			Address: r.Address.String(),
			Name:    r.LocalName(),
			RSSI:    r.RSSI,
		})
	})
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return nil
}

func (s tinygoScanner) StopScan() error {
	if err := s.adapter.StopScan(); err != nil {
		return fmt.Errorf("stop ble scan: %w", err)
	}
	return nil
}

// Adapter is a radio.Adapter whose discovery comes from BLE advertisements.
type Adapter struct {
	radio.Adapter
	ble     scanner
	scan    *radio.ScanHandle
	running chan struct{}
	enabled bool
	mu      syncutil.Mutex
}

// Wrap uses the system default BLE adapter for discovery on top of base.
func Wrap(base radio.Adapter) *Adapter {
	return &Adapter{
		Adapter: base,
		ble:     tinygoScanner{adapter: bluetooth.DefaultAdapter},
	}
}

func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.ble.Enable(); err != nil {
		return fmt.Errorf("%w: %w", radio.ErrNoAdapter, err)
	}
	a.enabled = true
	return nil
}

func (a *Adapter) StartScan(ctx context.Context, found func(radio.Device)) (radio.Scan, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	if err := a.CancelScan(); err != nil {
		log.Debug().Err(err).Msg("failed to stop previous ble scan")
	}

	// the controller runs one scan at a time
	a.mu.Lock()
	prev := a.running
	a.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for previous ble scan: %w", ctx.Err())
		}
	}

	h := radio.NewScanHandle(a.ble.StopScan)
	running := make(chan struct{})
	a.mu.Lock()
	a.scan = h
	a.running = running
	a.mu.Unlock()

	go func() {
		defer close(running)
		err := a.ble.Scan(func(r Result) {
			select {
			case <-h.Done():
				return
			default:
			}
			found(radio.Device{Address: r.Address, Name: r.Name})
		})
		if err != nil {
			log.Warn().Err(err).Msg("ble scan ended with error")
		}
		h.Finish(err)

		a.mu.Lock()
		if a.scan == h {
			a.scan = nil
		}
		a.mu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = h.Stop()
		case <-h.Done():
		}
	}()

	return h, nil
}

func (a *Adapter) CancelScan() error {
	a.mu.Lock()
	h := a.scan
	a.scan = nil
	a.mu.Unlock()
	if h != nil {
		return h.Stop()
	}
	return nil
}
