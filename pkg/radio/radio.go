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

// Package radio defines the capability provider the handshake components are
// built on: permission checks, adapter power, discovery, and the three stream
// socket roles (listening, connecting, connected). Backends live in the
// sub-packages; tests use simradio.
package radio

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// Permission is a group of platform permissions a radio operation needs.
type Permission string

const (
	PermissionScan      Permission = "scan"
	PermissionConnect   Permission = "connect"
	PermissionAdvertise Permission = "advertise"
)

var (
	// ErrClosed is returned by operations on a socket or listener that has
	// already been closed, including an Accept unblocked by Close.
	ErrClosed = errors.New("radio: socket closed")
	// ErrAccessDenied is returned by a backend when the OS refused a
	// privileged call.
	ErrAccessDenied = errors.New("radio: access denied")
	// ErrNoAdapter is returned when no radio hardware is present.
	ErrNoAdapter = errors.New("radio: no adapter present")
	// ErrDeviceNotFound is returned by Dial when the address cannot be resolved.
	ErrDeviceNotFound = errors.New("radio: device not found")
)

type Power int

const (
	PowerAbsent Power = iota
	PowerOff
	PowerOn
)

func (p Power) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	default:
		return "absent"
	}
}

// Device is a peer as seen by the radio. Name is empty when the radio could
// not read it.
type Device struct {
	Address string
	Name    string
}

// ServiceRecord identifies the advertised service both peers agree on.
type ServiceRecord struct {
	Name string
	ID   uuid.UUID
}

// Conn is a connected stream socket. Close must unblock a pending Read.
type Conn interface {
	io.ReadWriteCloser
	Remote() Device
}

// Listener is a listening socket. Close must unblock a pending Accept, which
// then returns an error wrapping ErrClosed.
type Listener interface {
	Accept() (Conn, error)
	Close() error
}

// Scan is a running discovery pass.
type Scan interface {
	// Done is closed when the pass ends, by Stop or by the radio.
	Done() <-chan struct{}
	// Err reports why the pass ended. Nil after a normal completion or Stop.
	Err() error
	// Stop ends the pass. Safe to call more than once.
	Stop() error
}

// Adapter is the injected capability provider. Implementations must not
// perform privileged work in HasPermissions or Power.
type Adapter interface {
	HasPermissions(perms ...Permission) bool
	RequestPermissions(ctx context.Context, perms ...Permission) (bool, error)

	Power() Power
	// RequestEnable hands off to the OS (or user) to power the radio on. The
	// outcome is observed through WatchPower.
	RequestEnable(ctx context.Context) error
	// WatchPower streams power changes until ctx is cancelled.
	WatchPower(ctx context.Context) (<-chan Power, error)

	// StartScan begins a discovery pass. found may be called from any
	// goroutine, never concurrently with itself.
	StartScan(ctx context.Context, found func(Device)) (Scan, error)
	// CancelScan stops any in-progress discovery pass, including ones not
	// started by this process. A no-op when nothing is scanning.
	CancelScan() error
	BondedDevices() ([]Device, error)

	Listen(svc ServiceRecord) (Listener, error)
	Dial(ctx context.Context, address string, svc ServiceRecord) (Conn, error)
}
