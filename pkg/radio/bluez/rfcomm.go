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

//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	profilePathPrefix = "/org/campusmarket/handshake/profile"
	connectPollMillis = 100
)

var errBadAddress = errors.New("invalid bluetooth address")

// parseBDAddr parses AA:BB:CC:DD:EE:FF into the little-endian byte order
// the kernel expects in sockaddr_rc.
func parseBDAddr(s string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(out) {
		return out, fmt.Errorf("%w: %q", errBadAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("%w: %q", errBadAddress, s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("%w: %q", errBadAddress, s)
		}
		out[len(out)-1-i] = uint8(b)
	}
	return out, nil
}

// rfcommConn is a connected RFCOMM socket. The fd is non-blocking so the
// runtime poller owns it, which lets Close unblock a pending Read.
type rfcommConn struct {
	file   *os.File
	remote radio.Device
}

func newRFCOMMConn(fd int, remote radio.Device) (*rfcommConn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	return &rfcommConn{
		file:   os.NewFile(uintptr(fd), "rfcomm:"+remote.Address),
		remote: remote,
	}, nil
}

func (c *rfcommConn) Read(b []byte) (int, error) {
	n, err := c.file.Read(b)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return n, err //nolint:wrapcheck // io.EOF must stay unwrapped for readers
	case errors.Is(err, os.ErrClosed):
		return n, fmt.Errorf("read: %w", radio.ErrClosed)
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.ENOTCONN):
		return n, io.EOF
	default:
		return n, fmt.Errorf("read: %w", err)
	}
}

func (c *rfcommConn) Write(b []byte) (int, error) {
	n, err := c.file.Write(b)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return n, fmt.Errorf("write: %w", radio.ErrClosed)
		}
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

func (c *rfcommConn) Close() error {
	if err := c.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close rfcomm socket: %w", err)
	}
	return nil
}

func (c *rfcommConn) Remote() radio.Device {
	return c.remote
}

// Dial opens an RFCOMM socket to the configured channel on address. The
// connect is non-blocking and polled so ctx can abandon it.
func (a *Adapter) Dial(ctx context.Context, address string, _ radio.ServiceRecord) (radio.Conn, error) {
	bd, err := parseBDAddr(address)
	if err != nil {
		return nil, fmt.Errorf("dial: %w: %w", radio.ErrDeviceNotFound, err)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK,
		unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, errnoError("open rfcomm socket", err)
	}

	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bd, Channel: a.opts.Channel})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, errnoError("connect "+address, err)
	}
	if err != nil {
		if err := waitConnected(ctx, fd); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("connect %s: %w", address, err)
		}
	}

	remote := a.remoteDevice(deviceObjectPath(a.adapterPath, address))
	remote.Address = strings.ToUpper(address)
	log.Debug().Str("address", remote.Address).Uint8("channel", a.opts.Channel).Msg("rfcomm connected")
	return newRFCOMMConn(fd, remote)
}

func waitConnected(ctx context.Context, fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // caller wraps
		}
		n, err := unix.Poll(fds, connectPollMillis)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return errnoError("poll", err)
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return errnoError("read socket error", err)
		}
		if soErr != 0 {
			return errnoError("connect", unix.Errno(soErr))
		}
		return nil
	}
}

func errnoError(op string, err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%s: %w: %w", op, radio.ErrAccessDenied, err)
	case errors.Is(err, unix.EAFNOSUPPORT), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%s: %w: %w", op, radio.ErrNoAdapter, err)
	case errors.Is(err, unix.EHOSTDOWN), errors.Is(err, unix.EHOSTUNREACH):
		return fmt.Errorf("%s: %w: %w", op, radio.ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// profile is the listener behind a registered Profile1 object.
type profile struct {
	adapter *Adapter
	pending chan radio.Conn
	closed  chan struct{}
	closer  *syncutil.CloseOnce
	path    dbus.ObjectPath
	mu      syncutil.Mutex
}

// profileObject is what gets exported as org.bluez.Profile1. Only these
// methods are visible on the bus. bluetoothd calls NewConnection with the fd
// of each accepted RFCOMM connection.
type profileObject struct {
	p *profile
}

// Release is called by bluetoothd when it unregisters the profile.
func (o profileObject) Release() *dbus.Error {
	log.Debug().Str("path", string(o.p.path)).Msg("profile released by bluetoothd")
	return nil
}

func (o profileObject) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	return o.p.handoff(device, fd)
}

func (profileObject) RequestDisconnection(dbus.ObjectPath) *dbus.Error {
	return nil
}

func (p *profile) handoff(device dbus.ObjectPath, fd dbus.UnixFD) *dbus.Error {
	conn, err := newRFCOMMConn(int(fd), p.adapter.remoteDevice(device))
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
	default:
		select {
		case p.pending <- conn:
			log.Debug().Str("device", string(device)).Msg("incoming rfcomm connection")
			return nil
		default:
		}
	}
	_ = conn.Close()
	return dbus.NewError("org.bluez.Error.Rejected", []any{"not accepting connections"})
}

func (p *profile) Accept() (radio.Conn, error) {
	select {
	case c := <-p.pending:
		return c, nil
	case <-p.closed:
		return nil, fmt.Errorf("accept: %w", radio.ErrClosed)
	}
}

func (p *profile) Close() error {
	return p.closer.Close()
}

// Listen registers a Profile1 server for svc, which publishes the SDP record
// peers look the service up by.
func (a *Adapter) Listen(svc radio.ServiceRecord) (radio.Listener, error) {
	path := dbus.ObjectPath(fmt.Sprintf("%s%d", profilePathPrefix, a.profileSeq.Add(1)))
	p := &profile{
		adapter: a,
		path:    path,
		pending: make(chan radio.Conn, 1),
		closed:  make(chan struct{}),
	}

	if err := a.conn.Export(profileObject{p: p}, path, profileIface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(svc.Name),
		"Role":                  dbus.MakeVariant("server"),
		"Channel":               dbus.MakeVariant(uint16(a.opts.Channel)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	manager := a.conn.Object(busName, "/org/bluez")
	if err := manager.Call(profileManager+".RegisterProfile", 0, path, svc.ID.String(), opts).Err; err != nil {
		_ = a.conn.Export(nil, path, profileIface)
		return nil, mapError("register profile", err)
	}

	p.closer = syncutil.NewCloseOnce(func() error {
		p.mu.Lock()
		close(p.closed)
		p.mu.Unlock()

		select {
		case c := <-p.pending:
			_ = c.Close()
		default:
		}

		err := manager.Call(profileManager+".UnregisterProfile", 0, path).Err
		_ = a.conn.Export(nil, path, profileIface)
		if err != nil && !isDBusError(err, "org.bluez.Error.DoesNotExist") {
			return mapError("unregister profile", err)
		}
		return nil
	})

	log.Info().
		Str("service", svc.Name).
		Str("uuid", svc.ID.String()).
		Uint8("channel", a.opts.Channel).
		Msg("rfcomm profile registered")
	return p, nil
}
