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

package simradio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/permissions"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testService = radio.ServiceRecord{
	Name: "MarketplaceConfirmation",
	ID:   uuid.MustParse("8ce255c0-200a-11e0-ac64-0800200c9a66"),
}

func TestAdapter_ScanFindsPoweredPeers(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer")
	m.NewAdapter("AA:AA:AA:AA:AA:02", "seller")
	m.NewAdapter("AA:AA:AA:AA:AA:03", "off", WithPower(radio.PowerOff))
	m.NewAdapter("AA:AA:AA:AA:AA:04", "", WithHiddenName())

	found := make(chan radio.Device, 8)
	scan, err := a.StartScan(context.Background(), func(d radio.Device) {
		found <- d
	})
	require.NoError(t, err)
	defer func() { _ = scan.Stop() }()

	got := map[string]string{}
	for range 2 {
		select {
		case d := <-found:
			got[d.Address] = d.Name
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for scan results")
		}
	}
	assert.Equal(t, map[string]string{
		"AA:AA:AA:AA:AA:02": "seller",
		"AA:AA:AA:AA:AA:04": "",
	}, got)
	assert.True(t, a.Scanning())

	require.NoError(t, a.CancelScan())
	<-scan.Done()
	assert.False(t, a.Scanning())
	assert.False(t, a.Announce(radio.Device{Address: "late"}))
}

func TestAdapter_PowerOffEndsScan(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer")
	scan, err := a.StartScan(context.Background(), func(radio.Device) {})
	require.NoError(t, err)

	a.SetPower(radio.PowerOff)

	select {
	case <-scan.Done():
	case <-time.After(time.Second):
		t.Fatal("scan should end when the radio powers off")
	}
	require.ErrorIs(t, scan.Err(), radio.ErrNoAdapter)

	_, err = a.StartScan(context.Background(), func(radio.Device) {})
	require.ErrorIs(t, err, radio.ErrNoAdapter)
}

func TestAdapter_WatchPower(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer", WithPower(radio.PowerOff), WithAutoEnable())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.WatchPower(ctx)
	require.NoError(t, err)

	require.NoError(t, a.RequestEnable(ctx))
	select {
	case p := <-ch:
		assert.Equal(t, radio.PowerOn, p)
	case <-time.After(time.Second):
		t.Fatal("expected a power event")
	}
	assert.Equal(t, int64(1), a.PrivilegedCalls())
}

func TestAdapter_Permissions(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer",
		WithGrants(permissions.Grants{permissions.BluetoothScan: true}),
		WithGrantOnRequest(),
	)

	assert.True(t, a.HasPermissions(radio.PermissionScan))
	assert.False(t, a.HasPermissions(radio.PermissionScan, radio.PermissionConnect))

	ok, err := a.RequestPermissions(context.Background(), radio.PermissionConnect)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.HasPermissions(radio.PermissionScan, radio.PermissionConnect))

	legacy := m.NewAdapter("AA:AA:AA:AA:AA:02", "old",
		WithAPILevel(29),
		WithGrants(permissions.Grants{permissions.Bluetooth: true}),
	)
	assert.True(t, legacy.HasPermissions(radio.PermissionConnect))
	assert.False(t, legacy.HasPermissions(radio.PermissionScan))
	assert.Zero(t, legacy.PrivilegedCalls())
}

func TestAdapter_ListenDialExchange(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	seller := m.NewAdapter("AA:AA:AA:AA:AA:01", "seller")
	buyer := m.NewAdapter("AA:AA:AA:AA:AA:02", "buyer")

	l, err := seller.Listen(testService)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	_, err = seller.Listen(testService)
	require.ErrorIs(t, err, ErrAddressInUse)

	accepted := make(chan radio.Conn, 1)
	go func() {
		c, aerr := l.Accept()
		if aerr == nil {
			accepted <- c
		}
	}()

	client, err := buyer.Dial(context.Background(), seller.Address(), testService)
	require.NoError(t, err)
	server := <-accepted

	assert.Equal(t, "seller", client.Remote().Name)
	assert.Equal(t, buyer.Address(), server.Remote().Address)

	// both sides write before either reads
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	_, err = server.Write([]byte("pong"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, client.Close())
	_, err = server.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	_, err = client.Write([]byte("x"))
	require.ErrorIs(t, err, radio.ErrClosed)
	require.NoError(t, client.Close())
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "seller")
	l, err := a.Listen(testService)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, aerr := l.Accept()
		errCh <- aerr
	}()

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	select {
	case aerr := <-errCh:
		require.ErrorIs(t, aerr, radio.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Accept should return after Close")
	}

	// the service record is free again
	l2, err := a.Listen(testService)
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestAdapter_DialIgnoresAddressCase(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	seller := m.NewAdapter("02:00:00:00:00:0a", "seller")
	buyer := m.NewAdapter("02:00:00:00:00:0b", "buyer")

	l, err := seller.Listen(testService)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	go func() {
		if c, aerr := l.Accept(); aerr == nil {
			_ = c.Close()
		}
	}()

	client, err := buyer.Dial(context.Background(), "02:00:00:00:00:0A", testService)
	require.NoError(t, err)
	assert.Equal(t, "seller", client.Remote().Name)
	require.NoError(t, client.Close())

	// scanning must still skip the adapter itself
	for _, d := range m.peers("02:00:00:00:00:0B") {
		assert.NotEqual(t, buyer.Address(), d.Address)
	}
}

func TestAdapter_DialUnknownAndCancelled(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	seller := m.NewAdapter("AA:AA:AA:AA:AA:01", "seller")
	buyer := m.NewAdapter("AA:AA:AA:AA:AA:02", "buyer")

	_, err := buyer.Dial(context.Background(), "FF:FF:FF:FF:FF:FF", testService)
	require.ErrorIs(t, err, radio.ErrDeviceNotFound)

	// listening but nobody accepting
	l, err := seller.Listen(testService)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = buyer.Dial(ctx, seller.Address(), testService)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdapter_BondedDevices(t *testing.T) {
	t.Parallel()

	m := NewMedium()
	bonded := []radio.Device{{Address: "11:22:33:44:55:66", Name: "old phone"}}
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer", WithBonded(bonded...))

	got, err := a.BondedDevices()
	require.NoError(t, err)
	assert.Equal(t, bonded, got)

	a.SetPower(radio.PowerOff)
	_, err = a.BondedDevices()
	require.ErrorIs(t, err, radio.ErrNoAdapter)
}
