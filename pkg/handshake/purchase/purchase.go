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

// Package purchase interprets handshake messages as purchase confirmation
// state. Both peers end in Confirmed after one confirmation/accept round
// trip; the final state is held for a display duration and then reset.
package purchase

import (
	"errors"
	"fmt"
	"time"

	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/handshake/signal"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultDisplayDuration = 2 * time.Second

var (
	ErrNothingToAnswer = errors.New("no purchase confirmation to answer")
	ErrLinkLost        = errors.New("connection lost before the purchase was confirmed")
)

type State int

const (
	Idle State = iota
	ConfirmationSent
	ConfirmationReceived
	AutoAcceptSent
	Confirmed
	Rejected
)

func (s State) String() string {
	switch s {
	case ConfirmationSent:
		return "confirmation_sent"
	case ConfirmationReceived:
		return "confirmation_received"
	case AutoAcceptSent:
		return "auto_accept_sent"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Final reports whether the round trip is over.
func (s State) Final() bool {
	return s == Confirmed || s == Rejected
}

// Snapshot is the published purchase state. Initiator is true on the peer
// that sent the confirmation.
type Snapshot struct {
	ChatID    string `json:"chatId,omitempty"`
	Error     string `json:"error,omitempty"`
	State     State  `json:"state"`
	Initiator bool   `json:"initiator"`
}

// Sender writes a message to the connected peer.
type Sender interface {
	Send(text string) (models.MessageOutcome, error)
}

type Options struct {
	Clock clockwork.Clock
	// DisplayDuration is how long a final state is held before the machine
	// reports completion and resets. Zero resets immediately.
	DisplayDuration time.Duration
	// AutoAccept answers an incoming confirmation with PURCHASE_ACCEPTED.
	// Without it the confirmation waits for Accept or Reject.
	AutoAccept bool
}

type Machine struct {
	sender      Sender
	state       *signal.Value[Snapshot]
	timer       clockwork.Timer
	onCompleted []func(Snapshot)
	opts        Options
	mu          syncutil.Mutex
	cbmu        syncutil.RWMutex
}

func New(sender Sender, opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Machine{
		sender: sender,
		opts:   opts,
		state:  signal.New(Snapshot{State: Idle}),
	}
}

// SetAutoAccept changes how later confirmations are answered. A
// confirmation already waiting for an answer is left alone.
func (m *Machine) SetAutoAccept(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.AutoAccept = enabled
}

// OnCompleted registers fn to receive the final snapshot when the display
// duration elapses. fn runs with the machine locked and must not call back
// into it.
func (m *Machine) OnCompleted(fn func(Snapshot)) {
	m.cbmu.Lock()
	defer m.cbmu.Unlock()
	m.onCompleted = append(m.onCompleted, fn)
}

// SendPurchaseConfirmation opens a handshake for chatID.
func (m *Machine) SendPurchaseConfirmation(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.sender.Send(protocol.Confirmation(chatID)); err != nil {
		cur := m.state.Get()
		cur.Error = models.Cause(err)
		m.setLocked(cur)
		return fmt.Errorf("send purchase confirmation: %w", err)
	}
	m.stopTimerLocked()
	m.setLocked(Snapshot{State: ConfirmationSent, ChatID: chatID, Initiator: true})
	return nil
}

// SendPurchaseAccepted answers a pending confirmation.
func (m *Machine) SendPurchaseAccepted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answerLocked(protocol.Accepted, Confirmed)
}

// Reject answers a pending confirmation with PURCHASE_REJECTED.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answerLocked(protocol.Rejected, Rejected)
}

func (m *Machine) answerLocked(text string, final State) error {
	cur := m.state.Get()
	if cur.State != ConfirmationReceived {
		return fmt.Errorf("%s in state %s: %w", text, cur.State, ErrNothingToAnswer)
	}
	if _, err := m.sender.Send(text); err != nil {
		cur.Error = models.Cause(err)
		m.setLocked(cur)
		return fmt.Errorf("send %s: %w", text, err)
	}
	if final == Confirmed {
		m.setLocked(Snapshot{State: AutoAcceptSent, ChatID: cur.ChatID})
	}
	m.finishLocked(Snapshot{State: final, ChatID: cur.ChatID})
	return nil
}

// HandleMessage applies an inbound message. Chat messages are ignored.
func (m *Machine) HandleMessage(msg protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Get()
	switch msg.Kind {
	case protocol.KindConfirmation:
		m.stopTimerLocked()
		log.Info().Str("chat_id", msg.ChatID).Msg("purchase confirmation received")
		m.setLocked(Snapshot{State: ConfirmationReceived, ChatID: msg.ChatID})
		if !m.opts.AutoAccept {
			return
		}
		if err := m.answerLocked(protocol.Accepted, Confirmed); err != nil {
			log.Error().Err(err).Msg("failed to accept purchase confirmation")
		}
	case protocol.KindAccepted:
		log.Info().Str("chat_id", cur.ChatID).Msg("purchase accepted by peer")
		m.finishLocked(Snapshot{State: Confirmed, ChatID: cur.ChatID, Initiator: cur.Initiator})
	case protocol.KindRejected:
		log.Info().Str("chat_id", cur.ChatID).Msg("purchase rejected by peer")
		m.finishLocked(Snapshot{State: Rejected, ChatID: cur.ChatID, Initiator: cur.Initiator})
	case protocol.KindChat:
	}
}

// finishLocked publishes a final state and schedules completion.
func (m *Machine) finishLocked(s Snapshot) {
	m.stopTimerLocked()
	m.setLocked(s)
	if m.opts.DisplayDuration <= 0 {
		m.completeLocked(s)
		return
	}
	var timer clockwork.Timer
	timer = m.opts.Clock.AfterFunc(m.opts.DisplayDuration, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer != timer {
			return
		}
		m.timer = nil
		m.completeLocked(s)
	})
	m.timer = timer
}

func (m *Machine) completeLocked(s Snapshot) {
	m.setLocked(Snapshot{State: Idle})
	log.Info().Str("state", s.State.String()).Str("chat_id", s.ChatID).Msg("purchase handshake completed")

	m.cbmu.RLock()
	cbs := m.onCompleted
	m.cbmu.RUnlock()
	for _, fn := range cbs {
		fn(s)
	}
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) setLocked(s Snapshot) {
	m.state.Set(s)
}

// LinkLost abandons a round trip that is still waiting for the peer. The
// machine returns to Idle with cause in Error so the failure is visible.
// Idle and final states are left alone.
func (m *Machine) LinkLost(cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Get()
	switch cur.State {
	case ConfirmationSent, ConfirmationReceived, AutoAcceptSent:
	default:
		return
	}
	if cause == "" {
		cause = ErrLinkLost.Error()
	}
	log.Warn().Str("chat_id", cur.ChatID).Str("state", cur.State.String()).Msg("connection lost during purchase")
	m.stopTimerLocked()
	m.setLocked(Snapshot{State: Idle, ChatID: cur.ChatID, Initiator: cur.Initiator, Error: cause})
}

// Reset drops any pending round trip without reporting completion.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.setLocked(Snapshot{State: Idle})
}

func (m *Machine) State() Snapshot {
	return m.state.Get()
}

func (m *Machine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return m.state.Subscribe(buffer)
}
