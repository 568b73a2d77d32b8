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

// Package connection owns the stream sockets of the purchase handshake. The
// Manager runs the listen-and-accept and connect roles as one state machine
// with at most one connected socket; the Channel it hands each connection to
// runs the receive loop and serialises sends.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/gate"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/monitor"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/handshake/signal"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrAcceptTimeout  = errors.New("accept timed out")
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrAbandoned is the result of an attempt cut short by Disconnect or a
	// newer attempt.
	ErrAbandoned = errors.New("attempt cancelled")
)

type Options struct {
	Clock          clockwork.Clock
	Service        radio.ServiceRecord
	Framing        protocol.Framing
	ConnectTimeout time.Duration
	AcceptTimeout  time.Duration
	ReadBuffer     int
}

// MessageHandler receives every inbound message in arrival order, on the
// read loop goroutine. It may call Send and Disconnect.
type MessageHandler func(msg protocol.Message)

// OutcomeHandler receives every MessageOutcome, inbound and outbound, in the
// order they happen. Inbound outcomes arrive on the read loop goroutine and
// outbound ones on the caller of Send, so a handler must not block.
type OutcomeHandler func(out models.MessageOutcome)

// attempt is one pass through the state machine, from Idle to Connected,
// Disconnected or Failed.
type attempt struct {
	err      error
	timer    clockwork.Timer
	done     chan struct{}
	op       string
	id       uint64
	timedOut atomic.Bool
}

type Manager struct {
	adapter  radio.Adapter
	gate     *gate.Gate
	monitor  *monitor.Monitor
	state    *signal.Value[models.ConnectionSnapshot]
	messages *signal.Value[models.MessageOutcome]
	cur      *attempt
	last     *attempt
	listener radio.Listener
	dialStop context.CancelFunc
	channel  *Channel
	handlers []MessageHandler
	outcomes []OutcomeHandler
	opts     Options
	wg       sync.WaitGroup
	nextID   uint64
	mu       syncutil.Mutex
	hmu      syncutil.RWMutex
}

func NewManager(adapter radio.Adapter, g *gate.Gate, m *monitor.Monitor, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Framing == "" {
		opts.Framing = protocol.FramingNewline
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = DefaultReadBuffer
	}
	return &Manager{
		adapter:  adapter,
		gate:     g,
		monitor:  m,
		opts:     opts,
		state:    signal.New(models.ConnectionSnapshot{State: models.ConnIdle}),
		messages: signal.New(models.MessageOutcome{}),
	}
}

// OnMessage registers h for inbound messages.
func (m *Manager) OnMessage(h MessageHandler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers = append(m.handlers, h)
}

// OnOutcome registers h for every message outcome. Unlike SubscribeMessages,
// no outcome is skipped when outcomes arrive faster than they are read.
func (m *Manager) OnOutcome(h OutcomeHandler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.outcomes = append(m.outcomes, h)
}

// StartListening advertises the service and waits for one peer on a
// background worker. It returns once the listening socket is open; the
// outcome is published on the state signal and returned by Wait.
func (m *Manager) StartListening(context.Context) error {
	const op = "connection.listen"
	if err := m.gate.Check(op, gate.Listen...); err != nil {
		return err
	}
	if err := m.monitor.Require(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.beginLocked(op)
	m.publishLocked(a, models.ConnListening, models.ConnectionOutcome{})

	l, err := m.adapter.Listen(m.opts.Service)
	if err != nil {
		herr := gate.Wrap(op, models.ErrConnectionFailed, err)
		m.failLocked(a, herr)
		return herr
	}
	m.listener = l

	if m.opts.AcceptTimeout > 0 {
		a.timer = m.opts.Clock.AfterFunc(m.opts.AcceptTimeout, func() {
			a.timedOut.Store(true)
			log.Warn().Uint64("attempt", a.id).Msg("accept timed out, closing listener")
			if cerr := l.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("error closing listener")
			}
		})
	}

	m.publishLocked(a, models.ConnAccepting, models.ConnectionOutcome{})
	m.monitor.Set(models.AdapterConnecting)
	log.Info().
		Uint64("attempt", a.id).
		Str("service", m.opts.Service.Name).
		Msg("listening for peer")

	m.wg.Add(1)
	go m.accept(a, l)
	return nil
}

func (m *Manager) accept(a *attempt, l radio.Listener) {
	defer m.wg.Done()

	conn, err := l.Accept()
	// one peer per listen, the service record is released right away
	if cerr := l.Close(); cerr != nil {
		log.Debug().Err(cerr).Msg("error closing listener")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == l {
		m.listener = nil
	}

	if err != nil && a.timedOut.Load() {
		err = ErrAcceptTimeout
	}
	m.settleLocked(a, conn, err)
}

// ConnectToDevice stops any discovery pass and dials address on a background
// worker. It returns once the attempt has started; the outcome is published
// on the state signal and returned by Wait.
func (m *Manager) ConnectToDevice(ctx context.Context, address string) error {
	const op = "connection.connect"
	if err := m.gate.Check(op, gate.Connect...); err != nil {
		return err
	}
	if err := m.monitor.Require(op); err != nil {
		return err
	}

	// radios cannot scan and connect at the same time
	if err := m.adapter.CancelScan(); err != nil {
		log.Debug().Err(err).Msg("error cancelling discovery before connect")
	}

	target := models.NewPeerDevice(address, "")

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.beginLocked(op)
	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.dialStop = cancel

	if m.opts.ConnectTimeout > 0 {
		a.timer = m.opts.Clock.AfterFunc(m.opts.ConnectTimeout, func() {
			a.timedOut.Store(true)
			log.Warn().Uint64("attempt", a.id).Msg("connect timed out")
			cancel()
		})
	}

	m.publishLocked(a, models.ConnConnecting, models.ConnectionOutcome{Device: &target})
	m.monitor.Set(models.AdapterConnecting)
	log.Info().Uint64("attempt", a.id).Str("address", target.Address).Msg("connecting to peer")

	m.wg.Add(1)
	go m.dial(dialCtx, a, target.Address)
	return nil
}

func (m *Manager) dial(ctx context.Context, a *attempt, address string) {
	defer m.wg.Done()

	conn, err := m.adapter.Dial(ctx, address, m.opts.Service)

	m.mu.Lock()
	defer m.mu.Unlock()
	if a.timedOut.Load() && err != nil {
		err = ErrConnectTimeout
	}
	m.settleLocked(a, conn, err)
}

// beginLocked releases everything the previous attempt holds and starts a
// new one. A connected peer is published as Disconnected first.
func (m *Manager) beginLocked(op string) *attempt {
	prev := m.state.Get()
	m.releaseLocked()
	if prev.State == models.ConnConnected {
		m.state.Set(models.ConnectionSnapshot{Attempt: prev.Attempt, State: models.ConnDisconnected})
		log.Info().Uint64("attempt", prev.Attempt).Msg("dropping connected peer for new attempt")
	}
	m.abandonLocked()

	m.nextID++
	a := &attempt{id: m.nextID, op: op, done: make(chan struct{})}
	m.cur = a
	m.last = a
	return a
}

// settleLocked applies the result of a blocking accept or dial.
func (m *Manager) settleLocked(a *attempt, conn radio.Conn, err error) {
	if a.timer != nil {
		a.timer.Stop()
	}

	if m.cur != a {
		// Disconnect or a newer attempt got here first
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("error closing stale socket")
			}
		}
		if err == nil {
			err = ErrAbandoned
		}
		finish(a, models.NewError(models.ErrConnectionFailed, a.op, err))
		log.Debug().Uint64("attempt", a.id).Err(err).Msg("stale connection attempt settled")
		return
	}

	if m.dialStop != nil {
		m.dialStop()
		m.dialStop = nil
	}
	if err != nil {
		m.failLocked(a, gate.Wrap(a.op, models.ErrConnectionFailed, err))
		return
	}

	remote := conn.Remote()
	device := models.NewPeerDevice(remote.Address, remote.Name)
	device.Connected = true

	ch := newChannel(conn, m.opts.Framing, m.opts.ReadBuffer, m.deliver, func(cerr error) {
		m.channelClosed(a, cerr)
	})
	m.channel = ch
	m.publishLocked(a, models.ConnConnected, models.ConnectionOutcome{Connected: true, Device: &device})
	m.monitor.Set(models.AdapterConnected)
	finish(a, nil)
	log.Info().Uint64("attempt", a.id).Str("address", device.Address).Msg("peer connected")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ch.readLoop()
	}()
}

func (m *Manager) failLocked(a *attempt, err error) {
	m.releaseLocked()
	m.publishLocked(a, models.ConnFailed, models.ConnectionOutcome{
		Error: models.Cause(err),
		Kind:  models.KindName(err),
	})
	if m.monitor.State().Usable() {
		m.monitor.Set(models.AdapterError)
	}
	finish(a, err)
	m.cur = nil
	log.Error().Err(err).Uint64("attempt", a.id).Msg("connection attempt failed")
}

func (m *Manager) channelClosed(a *attempt, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != a || m.channel == nil {
		return
	}
	m.channel = nil
	m.publishLocked(a, models.ConnDisconnected, models.ConnectionOutcome{
		Error: models.Cause(err),
		Kind:  models.KindName(err),
	})
	m.setAdapterDisconnected()
	m.cur = nil
	log.Info().Uint64("attempt", a.id).Msg("peer disconnected")
}

func (m *Manager) publishOutcome(out models.MessageOutcome) {
	m.messages.Set(out)

	m.hmu.RLock()
	outcomes := m.outcomes
	m.hmu.RUnlock()
	for _, h := range outcomes {
		h(out)
	}
}

func (m *Manager) deliver(out models.MessageOutcome) {
	m.publishOutcome(out)
	if !out.OK {
		return
	}
	msg := protocol.Parse(out.Text)

	m.hmu.RLock()
	handlers := m.handlers
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Send writes text to the connected peer.
func (m *Manager) Send(text string) (models.MessageOutcome, error) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()

	var out models.MessageOutcome
	var err error
	if ch == nil {
		out, err = failedSend("messages.send", errChannelClosed)
	} else {
		out, err = ch.Send(text)
	}
	m.publishOutcome(out)
	return out, err
}

// Disconnect closes the listening, connecting and connected sockets, which
// unblocks any accept, dial or read, and publishes Disconnected. Safe to call
// from any state and more than once; close errors are logged, not returned.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked()
	m.abandonLocked()
	m.state.UpdateIf(func(s models.ConnectionSnapshot) (models.ConnectionSnapshot, bool) {
		if s.State == models.ConnDisconnected && !s.Outcome.Connected && s.Outcome.Error == "" {
			return s, false
		}
		return models.ConnectionSnapshot{Attempt: s.Attempt, State: models.ConnDisconnected}, true
	})
	m.setAdapterDisconnected()
}

// abandonLocked detaches the current attempt. Its worker settles it as
// abandoned when the blocking call returns.
func (m *Manager) abandonLocked() {
	if m.cur == nil {
		return
	}
	if m.cur.timer != nil {
		m.cur.timer.Stop()
	}
	m.cur = nil
}

// releaseLocked closes every socket the manager holds. Each close is
// independent and failures are only logged.
func (m *Manager) releaseLocked() {
	if m.listener != nil {
		if err := m.listener.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing listening socket")
		}
		m.listener = nil
	}
	if m.dialStop != nil {
		m.dialStop()
		m.dialStop = nil
	}
	if m.channel != nil {
		if err := m.channel.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing connected socket")
		}
		m.channel = nil
	}
}

func (m *Manager) setAdapterDisconnected() {
	switch m.monitor.State() {
	case models.AdapterConnecting, models.AdapterConnected, models.AdapterError:
		m.monitor.Set(models.AdapterDisconnected)
	default:
	}
}

func (m *Manager) publishLocked(a *attempt, st models.ConnState, out models.ConnectionOutcome) {
	var id uint64
	if a != nil {
		id = a.id
	}
	m.state.Set(models.ConnectionSnapshot{Attempt: id, State: st, Outcome: out})
}

func finish(a *attempt, err error) {
	select {
	case <-a.done:
		return
	default:
	}
	a.err = err
	close(a.done)
}

// Wait blocks until the latest attempt is connected or over and returns its
// error. An attempt cut short by Disconnect returns ConnectionFailed once its
// worker has unblocked. Returns nil when no attempt was ever made.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	a := m.last
	m.mu.Unlock()
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return fmt.Errorf("wait for connection: %w", ctx.Err())
	}
}

// Close disconnects and waits for every worker to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

func (m *Manager) State() models.ConnectionSnapshot {
	return m.state.Get()
}

func (m *Manager) Connected() bool {
	return m.state.Get().State == models.ConnConnected
}

func (m *Manager) Subscribe(buffer int) (<-chan models.ConnectionSnapshot, func()) {
	return m.state.Subscribe(buffer)
}

// SubscribeMessages follows the latest message outcome. A slow subscriber
// skips intermediate outcomes; use OnOutcome to see every one.
func (m *Manager) SubscribeMessages(buffer int) (<-chan models.MessageOutcome, func()) {
	return m.messages.Subscribe(buffer)
}
