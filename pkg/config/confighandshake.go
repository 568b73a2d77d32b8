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

package config

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	RadioBackendBluez = "bluez"
	RadioBackendLAN   = "lan"
	RadioBackendSim   = "sim"

	ScannerNative = "native"
	ScannerBLE    = "ble"

	FramingNewline = "newline"
	FramingRaw     = "raw"

	DefaultServiceUUID     = "8ce255c0-200a-11e0-ac64-0800200c9a66"
	DefaultServiceName     = "MarketplaceConfirmation"
	DefaultRFCOMMChannel   = 22
	DefaultAPILevel        = 31
	DefaultConnectTimeout  = 30 * time.Second
	DefaultAcceptTimeout   = 30 * time.Second
	DefaultReadBuffer      = 1024
	DefaultDisplayDuration = 2 * time.Second
	DefaultScanTimeout     = 12 * time.Second
)

type Radio struct {
	Backend       string `toml:"backend"`
	Scanner       string `toml:"scanner,omitempty"`
	ServiceUUID   string `toml:"service_uuid"`
	ServiceName   string `toml:"service_name"`
	DeviceName    string `toml:"device_name,omitempty"`
	Adapter       string `toml:"adapter,omitempty"`
	ListenAddr    string `toml:"listen_addr,omitempty"`
	RFCOMMChannel int    `toml:"rfcomm_channel,omitempty"`
	APILevel      int    `toml:"api_level,omitempty"`
}

type Connection struct {
	ConnectTimeout Duration `toml:"connect_timeout"`
	AcceptTimeout  Duration `toml:"accept_timeout"`
	ReadBuffer     int      `toml:"read_buffer,omitempty"`
}

type Protocol struct {
	Framing string `toml:"framing"`
}

type Purchase struct {
	AutoAccept      *bool    `toml:"auto_accept,omitempty"`
	DisplayDuration Duration `toml:"display_duration"`
}

type Discovery struct {
	IncludeBonded *bool    `toml:"include_bonded,omitempty"`
	ScanTimeout   Duration `toml:"scan_timeout"`
}

func (c *Instance) RadioBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch b := strings.ToLower(c.vals.Radio.Backend); b {
	case RadioBackendBluez, RadioBackendLAN, RadioBackendSim:
		return b
	case "":
		return RadioBackendLAN
	default:
		log.Warn().Str("backend", b).Msg("unknown radio backend, using lan")
		return RadioBackendLAN
	}
}

func (c *Instance) SetRadioBackend(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Radio.Backend = backend
}

func (c *Instance) Scanner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if strings.EqualFold(c.vals.Radio.Scanner, ScannerBLE) {
		return ScannerBLE
	}
	return ScannerNative
}

// ServiceUUID falls back to the default identifier when the configured one
// does not parse.
func (c *Instance) ServiceUUID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Radio.ServiceUUID != "" {
		id, err := uuid.Parse(c.vals.Radio.ServiceUUID)
		if err == nil {
			return id
		}
		log.Warn().Err(err).Str("uuid", c.vals.Radio.ServiceUUID).Msg("invalid service uuid, using default")
	}
	return uuid.MustParse(DefaultServiceUUID)
}

func (c *Instance) ServiceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Radio.ServiceName == "" {
		return DefaultServiceName
	}
	return c.vals.Radio.ServiceName
}

func (c *Instance) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Radio.DeviceName
}

func (c *Instance) SetDeviceName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Radio.DeviceName = name
}

func (c *Instance) RadioAdapter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Radio.Adapter
}

func (c *Instance) RadioListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Radio.ListenAddr
}

func (c *Instance) RFCOMMChannel() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch := c.vals.Radio.RFCOMMChannel
	if ch < 1 || ch > 30 {
		return DefaultRFCOMMChannel
	}
	return uint8(ch)
}

func (c *Instance) APILevel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Radio.APILevel <= 0 {
		return DefaultAPILevel
	}
	return c.vals.Radio.APILevel
}

// ConnectTimeout of zero disables the timeout.
func (c *Instance) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNegative(c.vals.Connection.ConnectTimeout)
}

// AcceptTimeout of zero disables the timeout.
func (c *Instance) AcceptTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNegative(c.vals.Connection.AcceptTimeout)
}

func (c *Instance) SetConnectTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Connection.ConnectTimeout = Duration(d)
}

func (c *Instance) ReadBuffer() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Connection.ReadBuffer <= 0 {
		return DefaultReadBuffer
	}
	return c.vals.Connection.ReadBuffer
}

func (c *Instance) Framing() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if strings.EqualFold(c.vals.Protocol.Framing, FramingRaw) {
		return FramingRaw
	}
	return FramingNewline
}

func (c *Instance) SetFraming(framing string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Protocol.Framing = framing
}

func (c *Instance) AutoAccept() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Purchase.AutoAccept == nil {
		return true
	}
	return *c.vals.Purchase.AutoAccept
}

func (c *Instance) SetAutoAccept(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Purchase.AutoAccept = &enabled
}

func (c *Instance) DisplayDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNegative(c.vals.Purchase.DisplayDuration)
}

func (c *Instance) IncludeBonded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Discovery.IncludeBonded == nil {
		return true
	}
	return *c.vals.Discovery.IncludeBonded
}

func (c *Instance) ScanTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNegative(c.vals.Discovery.ScanTimeout)
}

func nonNegative(d Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
