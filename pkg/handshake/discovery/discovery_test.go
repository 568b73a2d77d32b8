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

package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/permissions"
	"github.com/campusmarket/handshake-core/pkg/radio/simradio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	medium  *simradio.Medium
	adapter *simradio.Adapter
	monitor *monitor.Monitor
	ctrl    *Controller
}

func newFixture(t *testing.T, opts Options, radioOpts ...simradio.Option) *fixture {
	t.Helper()
	m := simradio.NewMedium()
	a := m.NewAdapter("AA:AA:AA:AA:AA:01", "buyer", radioOpts...)
	g := gate.New(a)
	mon := monitor.New(a, g)
	c := New(a, g, mon, opts)
	t.Cleanup(c.Close)
	return &fixture{medium: m, adapter: a, monitor: mon, ctrl: c}
}

func waitDevices(t *testing.T, c *Controller, n int) []models.PeerDevice {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	updates, unsub := c.SubscribeDevices(16)
	defer unsub()
	for {
		select {
		case set := <-updates:
			if len(set) >= n {
				return set
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %d devices, have %v", n, c.Devices())
		}
	}
}

func TestScenarioA_DisabledThenEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, simradio.WithPower(radio.PowerOff))

	err := f.ctrl.StartDiscovery(context.Background())
	require.ErrorIs(t, err, models.ErrAdapterUnavailable)
	assert.NotErrorIs(t, err, models.ErrPermissionDenied)
	assert.False(t, f.ctrl.Scanning())

	f.adapter.SetPower(radio.PowerOn)
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	assert.Empty(t, f.ctrl.Devices())
	assert.True(t, f.ctrl.Scanning())
}

func TestScenarioB_DuplicateFoundOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))

	dev := radio.Device{Address: "AA:BB:CC:DD:EE:FF", Name: "seller"}
	require.True(t, f.adapter.Announce(dev))
	require.True(t, f.adapter.Announce(dev))

	assert.Len(t, f.ctrl.Devices(), 1)
}

func TestDiscovery_PlaceholderUpgradedByLaterName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))

	f.adapter.Announce(radio.Device{Address: "aa:bb:cc:dd:ee:01"})
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:02", Name: "first"})
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:01", Name: "named later"})
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:02", Name: "renamed"})

	assert.Equal(t, []models.PeerDevice{
		{Address: "AA:BB:CC:DD:EE:01", Name: "named later"},
		{Address: "AA:BB:CC:DD:EE:02", Name: "first"},
	}, f.ctrl.Devices())
}

func TestDiscovery_FindsPeersOnMedium(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.medium.NewAdapter("AA:AA:AA:AA:AA:02", "seller")
	f.medium.NewAdapter("AA:AA:AA:AA:AA:03", "", simradio.WithHiddenName())

	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	set := waitDevices(t, f.ctrl, 2)

	names := map[string]string{}
	for _, d := range set {
		names[d.Address] = d.Name
	}
	assert.Equal(t, "seller", names["AA:AA:AA:AA:AA:02"])
	assert.Equal(t, models.PlaceholderName, names["AA:AA:AA:AA:AA:03"])
}

func TestDiscovery_NewPassClearsSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:FF"})
	require.Len(t, f.ctrl.Devices(), 1)

	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	assert.Empty(t, f.ctrl.Devices())
	assert.Equal(t, uint64(2), f.ctrl.Status().Pass)
}

func TestDiscovery_BondedFirst(t *testing.T) {
	t.Parallel()

	bonded := radio.Device{Address: "11:22:33:44:55:66", Name: "paired phone"}
	f := newFixture(t, Options{IncludeBonded: true}, simradio.WithBonded(bonded))

	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:FF", Name: "live"})
	f.adapter.Announce(bonded)

	set := f.ctrl.Devices()
	require.Len(t, set, 2)
	assert.Equal(t, "11:22:33:44:55:66", set[0].Address)
	assert.True(t, set[0].Bonded)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", set[1].Address)
}

func TestDiscovery_BondedSkippedWithoutConnectPermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{IncludeBonded: true},
		simradio.WithBonded(radio.Device{Address: "11:22:33:44:55:66"}),
		simradio.WithGrants(permissions.Grants{permissions.BluetoothScan: true}),
	)
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	assert.Empty(t, f.ctrl.Devices())
}

func TestDiscovery_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StopDiscovery())

	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	require.NoError(t, f.ctrl.StopDiscovery())
	require.NoError(t, f.ctrl.StopDiscovery())

	assert.False(t, f.ctrl.Scanning())
	assert.False(t, f.adapter.Scanning())
	assert.False(t, f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:FF"}))
}

func TestDiscovery_RadioCompletesPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))

	f.adapter.CompleteScan(nil)
	_, err := f.ctrl.status.WaitFor(context.Background(), func(s Status) bool { return !s.Scanning })
	require.NoError(t, err)
	assert.Empty(t, f.ctrl.Status().Error)
}

func TestDiscovery_InterruptedByPowerOff(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))

	f.adapter.SetPower(radio.PowerOff)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := f.ctrl.status.WaitFor(ctx, func(s Status) bool { return !s.Scanning })
	require.NoError(t, err)
	assert.NotEmpty(t, st.Error)
}

func TestDiscovery_ScanTimeoutAndCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{ScanTimeout: 20 * time.Millisecond})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.ctrl.status.WaitFor(ctx, func(s Status) bool { return !s.Scanning })
	require.NoError(t, err)
	assert.False(t, f.adapter.Scanning())

	g := newFixture(t, Options{})
	callerCtx, callerCancel := context.WithCancel(context.Background())
	require.NoError(t, g.ctrl.StartDiscovery(callerCtx))
	callerCancel()
	_, err = g.ctrl.status.WaitFor(ctx, func(s Status) bool { return !s.Scanning })
	require.NoError(t, err)
}

func TestDiscovery_PermissionGatePrecedence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{IncludeBonded: true},
		simradio.WithGrants(permissions.Grants{}),
		simradio.WithPrivilegedHook(func(op string) {
			t.Errorf("privileged call %q attempted without permission", op)
		}),
	)

	require.ErrorIs(t, f.ctrl.StartDiscovery(context.Background()), models.ErrPermissionDenied)
	require.ErrorIs(t, f.ctrl.StopDiscovery(), models.ErrPermissionDenied)
	assert.Zero(t, f.adapter.PrivilegedCalls())
}

func TestDiscovery_MarkConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	require.NoError(t, f.ctrl.StartDiscovery(context.Background()))
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:01"})
	f.adapter.Announce(radio.Device{Address: "AA:BB:CC:DD:EE:02"})

	before := f.ctrl.Devices()
	f.ctrl.MarkConnected("AA:BB:CC:DD:EE:02", true)
	after := f.ctrl.Devices()

	assert.False(t, before[1].Connected, "published snapshots are not modified")
	assert.False(t, after[0].Connected)
	assert.True(t, after[1].Connected)

	f.ctrl.MarkConnected("AA:BB:CC:DD:EE:02", false)
	assert.False(t, f.ctrl.Devices()[1].Connected)
}

// Any sequence of found events yields each address once, in first-seen
// order, with the first real name winning.
func TestMergeDevice_DedupProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		type event struct {
			name string
			addr int
		}
		events := rapid.SliceOf(rapid.Custom(func(t *rapid.T) event {
			return event{
				addr: rapid.IntRange(0, 5).Draw(t, "addr"),
				name: rapid.SampledFrom([]string{"", "", "alpha", "beta"}).Draw(t, "name"),
			}
		})).Draw(t, "events")

		set := []models.PeerDevice{}
		var order []string
		firstName := map[string]string{}
		for _, e := range events {
			addr := fmt.Sprintf("AA:BB:CC:DD:EE:%02d", e.addr)
			d := models.NewPeerDevice(addr, e.name)
			if _, ok := firstName[addr]; !ok {
				order = append(order, addr)
				firstName[addr] = ""
			}
			if firstName[addr] == "" && e.name != "" {
				firstName[addr] = e.name
			}
			set, _ = mergeDevice(set, d)
		}

		if len(set) != len(order) {
			t.Fatalf("got %d devices, want %d", len(set), len(order))
		}
		for i, d := range set {
			if d.Address != order[i] {
				t.Fatalf("position %d: got %s want %s", i, d.Address, order[i])
			}
			want := firstName[d.Address]
			if want == "" {
				want = models.PlaceholderName
			}
			if d.Name != want {
				t.Fatalf("%s: got name %q want %q", d.Address, d.Name, want)
			}
		}
	})
}
