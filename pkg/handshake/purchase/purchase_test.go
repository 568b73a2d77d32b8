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

package purchase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/connection"
	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/simradio"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(text string) (models.MessageOutcome, error) {
	args := m.Called(text)
	return args.Get(0).(models.MessageOutcome), args.Error(1) //nolint:forcetypeassert // test mock
}

func okSend(text string) models.MessageOutcome {
	return models.MessageOutcome{OK: true, Text: text, Outbound: true}
}

type completions struct {
	got []Snapshot
	mu  syncutil.Mutex
}

func (c *completions) add(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s)
}

func (c *completions) list() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.got...)
}

func TestScenarioC_ConfirmationIsAutoAccepted(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", "PURCHASE_ACCEPTED").Return(okSend("PURCHASE_ACCEPTED"), nil).Once()

	clock := clockwork.NewFakeClock()
	m := New(sender, Options{AutoAccept: true, DisplayDuration: 2 * time.Second, Clock: clock})
	updates, cancel := m.Subscribe(8)
	defer cancel()
	<-updates

	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-42"))

	sender.AssertExpectations(t)
	sender.AssertNumberOfCalls(t, "Send", 1)
	assert.Equal(t, ConfirmationReceived, (<-updates).State)
	assert.Equal(t, AutoAcceptSent, (<-updates).State)
	final := <-updates
	assert.Equal(t, Confirmed, final.State)
	assert.Equal(t, "chat-42", final.ChatID)
	assert.False(t, final.Initiator)
}

func TestMachine_InitiatorConfirmedOnAccept(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", "PURCHASE_CONFIRMATION:chat-7").Return(okSend("PURCHASE_CONFIRMATION:chat-7"), nil)

	m := New(sender, Options{AutoAccept: true, DisplayDuration: time.Hour, Clock: clockwork.NewFakeClock()})
	require.NoError(t, m.SendPurchaseConfirmation("chat-7"))
	assert.Equal(t, Snapshot{State: ConfirmationSent, ChatID: "chat-7", Initiator: true}, m.State())

	m.HandleMessage(protocol.Parse("PURCHASE_ACCEPTED"))
	assert.Equal(t, Snapshot{State: Confirmed, ChatID: "chat-7", Initiator: true}, m.State())

	// chat text changes nothing
	m.HandleMessage(protocol.Parse("thanks!"))
	assert.Equal(t, Confirmed, m.State().State)
}

func TestMachine_DisplayDurationCompletes(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(okSend(""), nil)

	clock := clockwork.NewFakeClock()
	m := New(sender, Options{AutoAccept: true, DisplayDuration: 2 * time.Second, Clock: clock})
	done := &completions{}
	m.OnCompleted(done.add)

	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-1"))
	assert.Equal(t, Confirmed, m.State().State)

	clock.Advance(time.Second)
	assert.Empty(t, done.list())

	clock.Advance(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := m.state.WaitFor(ctx, func(s Snapshot) bool { return s.State == Idle })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(done.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Confirmed, done.list()[0].State)
	assert.Equal(t, "chat-1", done.list()[0].ChatID)
}

func TestMachine_NewConfirmationCancelsDisplay(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(okSend(""), nil)

	clock := clockwork.NewFakeClock()
	m := New(sender, Options{DisplayDuration: 2 * time.Second, Clock: clock})
	done := &completions{}
	m.OnCompleted(done.add)

	m.HandleMessage(protocol.Parse("PURCHASE_REJECTED"))
	assert.Equal(t, Rejected, m.State().State)

	require.NoError(t, m.SendPurchaseConfirmation("chat-2"))
	clock.Advance(5 * time.Second)
	assert.Equal(t, ConfirmationSent, m.State().State)
	assert.Empty(t, done.list())
}

func TestMachine_ManualAcceptAndReject(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", "PURCHASE_ACCEPTED").Return(okSend("PURCHASE_ACCEPTED"), nil).Once()
	sender.On("Send", "PURCHASE_REJECTED").Return(okSend("PURCHASE_REJECTED"), nil).Once()

	m := New(sender, Options{AutoAccept: false, DisplayDuration: time.Hour, Clock: clockwork.NewFakeClock()})

	require.ErrorIs(t, m.SendPurchaseAccepted(), ErrNothingToAnswer)

	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-3"))
	assert.Equal(t, ConfirmationReceived, m.State().State)
	sender.AssertNotCalled(t, "Send", "PURCHASE_ACCEPTED")

	require.NoError(t, m.SendPurchaseAccepted())
	assert.Equal(t, Confirmed, m.State().State)

	m.Reset()
	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-4"))
	require.NoError(t, m.Reject())
	assert.Equal(t, Snapshot{State: Rejected, ChatID: "chat-4"}, m.State())
	require.ErrorIs(t, m.Reject(), ErrNothingToAnswer)
	sender.AssertExpectations(t)
}

func TestMachine_SetAutoAccept(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", "PURCHASE_ACCEPTED").Return(okSend("PURCHASE_ACCEPTED"), nil).Once()

	m := New(sender, Options{DisplayDuration: time.Hour, Clock: clockwork.NewFakeClock()})
	m.SetAutoAccept(true)

	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-8"))
	assert.Equal(t, Snapshot{State: Confirmed, ChatID: "chat-8"}, m.State())

	m.Reset()
	m.SetAutoAccept(false)
	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-9"))
	assert.Equal(t, ConfirmationReceived, m.State().State)
	sender.AssertExpectations(t)
}

func TestMachine_SendFailureKeepsState(t *testing.T) {
	t.Parallel()

	broken := models.NewError(models.ErrStreamError, "messages.send", errors.New("not connected"))
	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(models.MessageOutcome{}, broken)

	m := New(sender, Options{AutoAccept: true, Clock: clockwork.NewFakeClock()})
	err := m.SendPurchaseConfirmation("chat-5")
	require.ErrorIs(t, err, models.ErrStreamError)
	assert.Equal(t, Idle, m.State().State)
	assert.Equal(t, "not connected", m.State().Error)

	m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-6"))
	assert.Equal(t, ConfirmationReceived, m.State().State)
	assert.Equal(t, "not connected", m.State().Error)
}

func TestMachine_LinkLost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T, m *Machine)
		cause   string
		want    Snapshot
		pending bool
	}{
		{
			name:  "idle is left alone",
			setup: func(*testing.T, *Machine) {},
			cause: "peer closed",
			want:  Snapshot{State: Idle},
		},
		{
			name: "waiting initiator",
			setup: func(t *testing.T, m *Machine) {
				require.NoError(t, m.SendPurchaseConfirmation("chat-1"))
			},
			cause:   "peer closed",
			want:    Snapshot{State: Idle, ChatID: "chat-1", Initiator: true, Error: "peer closed"},
			pending: true,
		},
		{
			name: "unanswered confirmation",
			setup: func(_ *testing.T, m *Machine) {
				m.HandleMessage(protocol.Parse("PURCHASE_CONFIRMATION:chat-2"))
			},
			want:    Snapshot{State: Idle, ChatID: "chat-2", Error: ErrLinkLost.Error()},
			pending: true,
		},
		{
			name: "final state keeps displaying",
			setup: func(t *testing.T, m *Machine) {
				require.NoError(t, m.SendPurchaseConfirmation("chat-3"))
				m.HandleMessage(protocol.Parse("PURCHASE_ACCEPTED"))
			},
			cause: "peer closed",
			want:  Snapshot{State: Confirmed, ChatID: "chat-3", Initiator: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &mockSender{}
			sender.On("Send", mock.Anything).Return(okSend(""), nil)
			m := New(sender, Options{DisplayDuration: time.Minute, Clock: clockwork.NewFakeClock()})
			done := &completions{}
			m.OnCompleted(done.add)

			tt.setup(t, m)
			m.LinkLost(tt.cause)

			assert.Equal(t, tt.want, m.State())
			if tt.pending {
				assert.Empty(t, done.list())
			}
		})
	}
}

func TestMachine_ZeroDisplayCompletesImmediately(t *testing.T) {
	t.Parallel()

	m := New(&mockSender{}, Options{})
	done := &completions{}
	m.OnCompleted(done.add)

	m.HandleMessage(protocol.Parse("PURCHASE_ACCEPTED"))
	assert.Equal(t, Idle, m.State().State)
	require.Len(t, done.list(), 1)
	assert.Equal(t, Confirmed, done.list()[0].State)
}

type handshakePeer struct {
	mgr     *connection.Manager
	machine *Machine
}

func newHandshakePeer(t *testing.T, medium *simradio.Medium, addr string) *handshakePeer {
	t.Helper()
	a := medium.NewAdapter(addr, addr)
	g := gate.New(a)
	mgr := connection.NewManager(a, g, monitor.New(a, g), connection.Options{
		Service: radio.ServiceRecord{
			Name: "MarketplaceConfirmation",
			ID:   uuid.MustParse("8ce255c0-200a-11e0-ac64-0800200c9a66"),
		},
	})
	t.Cleanup(mgr.Close)
	machine := New(mgr, Options{AutoAccept: true, DisplayDuration: time.Hour, Clock: clockwork.NewFakeClock()})
	mgr.OnMessage(machine.HandleMessage)
	return &handshakePeer{mgr: mgr, machine: machine}
}

func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	medium := simradio.NewMedium()
	seller := newHandshakePeer(t, medium, "AA:AA:AA:AA:AA:01")
	buyer := newHandshakePeer(t, medium, "AA:AA:AA:AA:AA:02")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, seller.mgr.StartListening(ctx))
	require.NoError(t, buyer.mgr.ConnectToDevice(ctx, "AA:AA:AA:AA:AA:01"))
	require.NoError(t, buyer.mgr.Wait(ctx))
	require.NoError(t, seller.mgr.Wait(ctx))

	require.NoError(t, buyer.machine.SendPurchaseConfirmation("chat-42"))

	sellerFinal, err := seller.machine.state.WaitFor(ctx, func(s Snapshot) bool { return s.State == Confirmed })
	require.NoError(t, err)
	buyerFinal, err := buyer.machine.state.WaitFor(ctx, func(s Snapshot) bool { return s.State == Confirmed })
	require.NoError(t, err)

	assert.Equal(t, "chat-42", sellerFinal.ChatID)
	assert.False(t, sellerFinal.Initiator)
	assert.Equal(t, "chat-42", buyerFinal.ChatID)
	assert.True(t, buyerFinal.Initiator)
}

func TestHandshakeRawWireCapturesAccept(t *testing.T) {
	t.Parallel()

	medium := simradio.NewMedium()
	receiver := medium.NewAdapter("AA:AA:AA:AA:AA:01", "receiver")
	g := gate.New(receiver)
	mgr := connection.NewManager(receiver, g, monitor.New(receiver, g), connection.Options{
		Service: radio.ServiceRecord{ID: uuid.MustParse("8ce255c0-200a-11e0-ac64-0800200c9a66")},
		Framing: protocol.FramingRaw,
	})
	t.Cleanup(mgr.Close)
	machine := New(mgr, Options{AutoAccept: true, DisplayDuration: time.Hour, Clock: clockwork.NewFakeClock()})
	mgr.OnMessage(machine.HandleMessage)

	require.NoError(t, mgr.StartListening(context.Background()))

	// the peer is a bare socket so the test sees exactly what goes on the wire
	peer := medium.NewAdapter("AA:AA:AA:AA:AA:02", "peer")
	conn, err := peer.Dial(context.Background(), "AA:AA:AA:AA:AA:01",
		radio.ServiceRecord{ID: uuid.MustParse("8ce255c0-200a-11e0-ac64-0800200c9a66")})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("PURCHASE_CONFIRMATION:chat-42"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "PURCHASE_ACCEPTED", string(buf[:n]))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = machine.state.WaitFor(ctx, func(s Snapshot) bool { return s.State == Confirmed })
	require.NoError(t, err)
}
