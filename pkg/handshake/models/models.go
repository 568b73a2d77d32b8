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

// Package models holds the session-scoped values the handshake components
// publish: peers, adapter and connection state, message outcomes and the
// error taxonomy. Nothing here is persisted.
package models

import (
	"fmt"
	"strings"
)

// PlaceholderName is shown for a peer whose name the radio could not read.
const PlaceholderName = "Unknown device"

// PeerDevice is identified by Address. Name is never empty, it falls back to
// PlaceholderName.
type PeerDevice struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	Bonded    bool   `json:"bonded,omitempty"`
}

// NewPeerDevice normalises a radio result into a PeerDevice.
func NewPeerDevice(address, name string) PeerDevice {
	name = strings.TrimSpace(name)
	if name == "" {
		name = PlaceholderName
	}
	return PeerDevice{
		Address: strings.ToUpper(strings.TrimSpace(address)),
		Name:    name,
	}
}

func (d PeerDevice) HasName() bool {
	return d.Name != "" && d.Name != PlaceholderName
}

type AdapterState int

const (
	AdapterDisabled AdapterState = iota
	AdapterEnabled
	AdapterConnecting
	AdapterConnected
	AdapterDisconnected
	AdapterError
)

var adapterStateNames = map[AdapterState]string{
	AdapterDisabled:     "disabled",
	AdapterEnabled:      "enabled",
	AdapterConnecting:   "connecting",
	AdapterConnected:    "connected",
	AdapterDisconnected: "disconnected",
	AdapterError:        "error",
}

func (s AdapterState) String() string {
	if n, ok := adapterStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("AdapterState(%d)", int(s))
}

func (s AdapterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AdapterState) UnmarshalText(b []byte) error {
	return unmarshalName(adapterStateNames, s, b)
}

// Usable reports whether the radio is present and powered.
func (s AdapterState) Usable() bool {
	return s != AdapterDisabled && s != AdapterError
}

// ConnState is the Connection Manager's position in one connection attempt.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnListening
	ConnAccepting
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
)

var connStateNames = map[ConnState]string{
	ConnIdle:         "idle",
	ConnListening:    "listening",
	ConnAccepting:    "accepting",
	ConnConnecting:   "connecting",
	ConnConnected:    "connected",
	ConnDisconnected: "disconnected",
	ConnFailed:       "failed",
}

func (s ConnState) String() string {
	if n, ok := connStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnState) UnmarshalText(b []byte) error {
	return unmarshalName(connStateNames, s, b)
}

func unmarshalName[T comparable](names map[T]string, dst *T, b []byte) error {
	for v, n := range names {
		if n == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether the attempt is over.
func (s ConnState) Terminal() bool {
	return s == ConnDisconnected || s == ConnFailed
}

// Busy reports whether an attempt holds a socket or a worker.
func (s ConnState) Busy() bool {
	switch s {
	case ConnListening, ConnAccepting, ConnConnecting, ConnConnected:
		return true
	default:
		return false
	}
}

// ConnectionOutcome is the result of one connection attempt. Connected is
// authoritative; Device is informational and may be nil.
type ConnectionOutcome struct {
	Device    *PeerDevice `json:"device,omitempty"`
	Error     string      `json:"error,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Connected bool        `json:"connected"`
}

func (o ConnectionOutcome) Success() bool {
	return o.Connected
}

// ConnectionSnapshot is what the Connection Manager publishes. Attempt
// increases with every listen or connect call.
type ConnectionSnapshot struct {
	Outcome ConnectionOutcome `json:"outcome"`
	State   ConnState         `json:"state"`
	Attempt uint64            `json:"attempt"`
}

// MessageOutcome is produced per inbound frame and per send. OK is
// authoritative; Text is informational.
type MessageOutcome struct {
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
	OK       bool   `json:"success"`
	Outbound bool   `json:"outbound,omitempty"`
}

func (o MessageOutcome) Success() bool {
	return o.OK
}

// ConnectionStatus is the coarse status a UI renders.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusScanning     ConnectionStatus = "scanning"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ProjectStatus folds the component states into a single UI status. An
// active connection attempt wins over a running scan.
func ProjectStatus(adapter AdapterState, scanning bool, conn ConnState) ConnectionStatus {
	switch {
	case adapter == AdapterError || conn == ConnFailed:
		return StatusFailed
	case conn == ConnConnected:
		return StatusConnected
	case conn == ConnConnecting || conn == ConnListening || conn == ConnAccepting:
		return StatusConnecting
	case scanning:
		return StatusScanning
	case conn == ConnDisconnected:
		return StatusDisconnected
	default:
		return StatusIdle
	}
}
