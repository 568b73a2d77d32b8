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

package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/permissions"
	"github.com/campusmarket/handshake-core/pkg/radio/simradio"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testService = radio.ServiceRecord{
	Name: "MarketplaceConfirmation",
	ID:   uuid.MustParse("8ce255c0-200a-11e0-ac64-0800200c9a66"),
}

const (
	sellerAddr = "AA:AA:AA:AA:AA:01"
	buyerAddr  = "AA:AA:AA:AA:AA:02"
)

type peer struct {
	adapter *simradio.Adapter
	monitor *monitor.Monitor
	mgr     *Manager
}

func newPeer(t testing.TB, medium *simradio.Medium, addr, name string, opts Options, radioOpts ...simradio.Option) *peer {
	t.Helper()
	a := medium.NewAdapter(addr, name, radioOpts...)
	g := gate.New(a)
	mon := monitor.New(a, g)
	if opts.Service.ID == uuid.Nil {
		opts.Service = testService
	}
	mgr := NewManager(a, g, mon, opts)
	t.Cleanup(mgr.Close)
	return &peer{adapter: a, monitor: mon, mgr: mgr}
}

func waitState(t *testing.T, m *Manager, want models.ConnState) models.ConnectionSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := m.state.WaitFor(ctx, func(s models.ConnectionSnapshot) bool {
		return s.State == want
	})
	require.NoError(t, err, "waiting for %s, last state %s", want, m.State().State)
	return snap
}

func connectPair(t *testing.T, opts Options) (seller, buyer *peer) {
	t.Helper()
	medium := simradio.NewMedium()
	seller = newPeer(t, medium, sellerAddr, "seller", opts)
	buyer = newPeer(t, medium, buyerAddr, "buyer", opts)

	require.NoError(t, seller.mgr.StartListening(context.Background()))
	waitState(t, seller.mgr, models.ConnAccepting)
	require.NoError(t, buyer.mgr.ConnectToDevice(context.Background(), sellerAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, buyer.mgr.Wait(ctx))
	require.NoError(t, seller.mgr.Wait(ctx))
	return seller, buyer
}

type inbox struct {
	ch chan protocol.Message
}

func newInbox(m *Manager) *inbox {
	in := &inbox{ch: make(chan protocol.Message, 64)}
	m.OnMessage(func(msg protocol.Message) { in.ch <- msg })
	return in
}

func (in *inbox) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-in.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

func TestManager_ListenConnectExchange(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{})
	sellerIn := newInbox(seller.mgr)
	buyerIn := newInbox(buyer.mgr)

	ss := seller.mgr.State()
	bs := buyer.mgr.State()
	assert.Equal(t, models.ConnConnected, ss.State)
	assert.Equal(t, models.ConnConnected, bs.State)
	require.NotNil(t, bs.Outcome.Device)
	assert.Equal(t, sellerAddr, bs.Outcome.Device.Address)
	assert.Equal(t, "seller", bs.Outcome.Device.Name)
	assert.True(t, bs.Outcome.Success())
	assert.Equal(t, buyerAddr, ss.Outcome.Device.Address)
	assert.Equal(t, models.AdapterConnected, seller.monitor.State())

	out, err := buyer.mgr.Send(protocol.Confirmation("chat-42"))
	require.NoError(t, err)
	assert.True(t, out.Success())
	assert.True(t, out.Outbound)

	msg := sellerIn.next(t)
	assert.Equal(t, protocol.KindConfirmation, msg.Kind)
	assert.Equal(t, "chat-42", msg.ChatID)

	_, err = seller.mgr.Send(protocol.Accepted)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindAccepted, buyerIn.next(t).Kind)

	_, err = seller.mgr.Send("see you\nat noon")
	require.NoError(t, err)
	chat := buyerIn.next(t)
	assert.Equal(t, protocol.KindChat, chat.Kind)
	assert.Equal(t, "see you\nat noon", chat.Text)
}

func TestManager_ConnectCancelsDiscovery(t *testing.T) {
	t.Parallel()

	medium := simradio.NewMedium()
	buyer := newPeer(t, medium, buyerAddr, "buyer", Options{})
	scan, err := buyer.adapter.StartScan(context.Background(), func(radio.Device) {})
	require.NoError(t, err)

	require.NoError(t, buyer.mgr.ConnectToDevice(context.Background(), "FF:FF:FF:FF:FF:FF"))
	<-scan.Done()
	assert.False(t, buyer.adapter.Scanning())

	err = buyer.mgr.Wait(context.Background())
	require.ErrorIs(t, err, models.ErrConnectionFailed)
	require.ErrorIs(t, err, radio.ErrDeviceNotFound)
	snap := waitState(t, buyer.mgr, models.ConnFailed)
	assert.Equal(t, "connection_failed", snap.Outcome.Kind)
	assert.NotEmpty(t, snap.Outcome.Error)
	assert.False(t, snap.Outcome.Success())
}

func TestScenarioD_DisconnectUnblocksAccept(t *testing.T) {
	t.Parallel()

	seller := newPeer(t, simradio.NewMedium(), sellerAddr, "seller", Options{})
	require.NoError(t, seller.mgr.StartListening(context.Background()))
	waitState(t, seller.mgr, models.ConnAccepting)

	seller.mgr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := seller.mgr.Wait(ctx)
	require.ErrorIs(t, err, models.ErrConnectionFailed)
	require.ErrorIs(t, err, radio.ErrClosed)

	// the settled accept must not overwrite Disconnected
	seller.mgr.Close()
	assert.Equal(t, models.ConnDisconnected, seller.mgr.State().State)

	// the service record was released
	l, err := seller.adapter.Listen(testService)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestManager_SingleActiveConnection(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{})
	first := buyer.mgr.State().Attempt

	updates, cancel := buyer.mgr.Subscribe(16)
	defer cancel()
	<-updates

	// a new listen while connected drops the old peer first
	require.NoError(t, buyer.mgr.StartListening(context.Background()))

	var seen []models.ConnectionSnapshot
	for len(seen) < 3 {
		select {
		case s := <-updates:
			seen = append(seen, s)
		case <-time.After(time.Second):
			t.Fatalf("missing transitions, saw %v", seen)
		}
	}
	assert.Equal(t, models.ConnDisconnected, seen[0].State)
	assert.Equal(t, first, seen[0].Attempt)
	assert.Equal(t, models.ConnListening, seen[1].State)
	assert.Equal(t, models.ConnAccepting, seen[2].State)
	assert.Greater(t, seen[1].Attempt, first)

	// the old peer sees the stream end
	snap := waitState(t, seller.mgr, models.ConnDisconnected)
	assert.Equal(t, "stream_error", snap.Outcome.Kind)
}

func TestManager_PeerCloseEndsConnection(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{})
	msgs, cancel := seller.mgr.SubscribeMessages(8)
	defer cancel()
	<-msgs

	buyer.mgr.Disconnect()

	snap := waitState(t, seller.mgr, models.ConnDisconnected)
	assert.Equal(t, "connection closed by peer", snap.Outcome.Error)
	assert.Equal(t, models.AdapterDisconnected, seller.monitor.State())

	select {
	case out := <-msgs:
		assert.False(t, out.Success())
	case <-time.After(time.Second):
		t.Fatal("expected a final failed message outcome")
	}

	out, err := seller.mgr.Send("anyone?")
	require.ErrorIs(t, err, models.ErrStreamError)
	assert.False(t, out.Success())
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	_, buyer := connectPair(t, Options{})
	for range 3 {
		buyer.mgr.Disconnect()
		assert.Equal(t, models.ConnDisconnected, buyer.mgr.State().State)
	}
	_, err := buyer.mgr.Send("late")
	require.ErrorIs(t, err, models.ErrStreamError)

	idle := newPeer(t, simradio.NewMedium(), sellerAddr, "idle", Options{})
	idle.mgr.Disconnect()
	idle.mgr.Disconnect()
	assert.Equal(t, models.ConnDisconnected, idle.mgr.State().State)
	require.NoError(t, idle.mgr.Wait(context.Background()))
}

func TestManager_AcceptTimeout(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	seller := newPeer(t, simradio.NewMedium(), sellerAddr, "seller", Options{
		Clock:         clock,
		AcceptTimeout: 30 * time.Second,
	})
	require.NoError(t, seller.mgr.StartListening(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)

	err := seller.mgr.Wait(ctx)
	require.ErrorIs(t, err, models.ErrConnectionFailed)
	require.ErrorIs(t, err, ErrAcceptTimeout)
	snap := waitState(t, seller.mgr, models.ConnFailed)
	assert.Equal(t, "accept timed out", snap.Outcome.Error)
}

func TestManager_ConnectTimeout(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	medium := simradio.NewMedium()
	buyer := newPeer(t, medium, buyerAddr, "buyer", Options{
		Clock:          clock,
		ConnectTimeout: 30 * time.Second,
	})

	// listening, but never accepting
	silent := medium.NewAdapter(sellerAddr, "silent")
	l, err := silent.Listen(testService)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	require.NoError(t, buyer.mgr.ConnectToDevice(context.Background(), sellerAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)

	err = buyer.mgr.Wait(ctx)
	require.ErrorIs(t, err, models.ErrConnectionFailed)
	require.ErrorIs(t, err, ErrConnectTimeout)
	waitState(t, buyer.mgr, models.ConnFailed)
}

func TestManager_PermissionGatePrecedence(t *testing.T) {
	t.Parallel()

	p := newPeer(t, simradio.NewMedium(), buyerAddr, "buyer", Options{},
		simradio.WithGrants(permissions.Grants{}),
		simradio.WithPrivilegedHook(func(op string) {
			t.Errorf("privileged call %q attempted without permission", op)
		}),
	)

	require.ErrorIs(t, p.mgr.StartListening(context.Background()), models.ErrPermissionDenied)
	require.ErrorIs(t, p.mgr.ConnectToDevice(context.Background(), sellerAddr), models.ErrPermissionDenied)
	assert.Zero(t, p.adapter.PrivilegedCalls())
	assert.Equal(t, models.ConnIdle, p.mgr.State().State)
}

func TestManager_AdapterUnavailable(t *testing.T) {
	t.Parallel()

	p := newPeer(t, simradio.NewMedium(), buyerAddr, "buyer", Options{},
		simradio.WithPower(radio.PowerOff))

	err := p.mgr.ConnectToDevice(context.Background(), sellerAddr)
	require.ErrorIs(t, err, models.ErrAdapterUnavailable)
	assert.Zero(t, p.adapter.PrivilegedCalls())
}

func TestManager_ListenFailsWhenServiceTaken(t *testing.T) {
	t.Parallel()

	medium := simradio.NewMedium()
	p := newPeer(t, medium, sellerAddr, "seller", Options{})
	other, err := p.adapter.Listen(testService)
	require.NoError(t, err)
	defer func() { _ = other.Close() }()

	err = p.mgr.StartListening(context.Background())
	require.ErrorIs(t, err, models.ErrConnectionFailed)
	require.ErrorIs(t, err, simradio.ErrAddressInUse)
	assert.Equal(t, models.ConnFailed, p.mgr.State().State)
	assert.Equal(t, models.AdapterError, p.monitor.State())
}

func TestManager_ConcurrentSendsDoNotInterleave(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{})
	in := newInbox(seller.mgr)

	const senders, each = 8, 10
	var wg sync.WaitGroup
	for s := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				_, err := buyer.mgr.Send(fmt.Sprintf("sender-%d-message-%d-%s", s, i, "padding-to-make-writes-longer"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var got, want []string
	for s := range senders {
		for i := range each {
			want = append(want, fmt.Sprintf("sender-%d-message-%d-%s", s, i, "padding-to-make-writes-longer"))
		}
	}
	for range senders * each {
		got = append(got, in.next(t).Text)
	}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestManager_OnOutcomeSeesEveryMessage(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{})

	const burst = 100
	got := make(chan models.MessageOutcome, 2*burst)
	seller.mgr.OnOutcome(func(out models.MessageOutcome) { got <- out })

	// the last-value subscription is never read, so it would drop most of these
	_, cancel := seller.mgr.SubscribeMessages(1)
	defer cancel()

	for i := range burst {
		_, err := buyer.mgr.Send(fmt.Sprintf("chat-%d", i))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(got) == burst }, 2*time.Second, 10*time.Millisecond)
	for i := range burst {
		out := <-got
		assert.True(t, out.Success())
		assert.False(t, out.Outbound)
		assert.Equal(t, fmt.Sprintf("chat-%d", i), out.Text)
	}

	_, err := seller.mgr.Send(protocol.Accepted)
	require.NoError(t, err)
	out := <-got
	assert.True(t, out.Outbound)
	assert.Equal(t, protocol.Accepted, out.Text)
}

func TestManager_RawFraming(t *testing.T) {
	t.Parallel()

	seller, buyer := connectPair(t, Options{Framing: protocol.FramingRaw})
	in := newInbox(seller.mgr)

	_, err := buyer.mgr.Send(protocol.Accepted)
	require.NoError(t, err)
	msg := in.next(t)
	assert.Equal(t, protocol.KindAccepted, msg.Kind)
	assert.Equal(t, protocol.Accepted, msg.Text)
}

// Whatever sequence of operations ran before, repeated disconnects settle on
// Disconnected and leave no worker behind.
func TestManager_DisconnectProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		medium := simradio.NewMedium()
		seller := newPeer(t, medium, sellerAddr, "seller", Options{})
		buyer := newPeer(t, medium, buyerAddr, "buyer", Options{})

		ops := rapid.SliceOfN(rapid.SampledFrom([]string{
			"seller.listen", "buyer.connect", "buyer.listen", "seller.disconnect", "buyer.disconnect",
		}), 0, 8).Draw(rt, "ops")

		for _, op := range ops {
			switch op {
			case "seller.listen":
				_ = seller.mgr.StartListening(context.Background())
			case "buyer.listen":
				_ = buyer.mgr.StartListening(context.Background())
			case "buyer.connect":
				_ = buyer.mgr.ConnectToDevice(context.Background(), sellerAddr)
			case "seller.disconnect":
				seller.mgr.Disconnect()
			case "buyer.disconnect":
				buyer.mgr.Disconnect()
			}
		}

		n := rapid.IntRange(1, 4).Draw(rt, "disconnects")
		for range n {
			buyer.mgr.Disconnect()
			seller.mgr.Disconnect()
		}
		buyer.mgr.Close()
		seller.mgr.Close()

		if s := buyer.mgr.State().State; s != models.ConnDisconnected {
			rt.Fatalf("buyer settled in %s", s)
		}
		if s := seller.mgr.State().State; s != models.ConnDisconnected {
			rt.Fatalf("seller settled in %s", s)
		}
	})
}
