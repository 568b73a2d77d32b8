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
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/rs/zerolog/log"
)

const DefaultReadBuffer = 1024

var errChannelClosed = errors.New("not connected")

type flusher interface {
	Flush() error
}

// Channel runs the receive loop over a connected socket and serialises
// sends. It borrows the socket from the Manager and never outlives it.
type Channel struct {
	conn     radio.Conn
	closer   *syncutil.CloseOnce
	deliver  func(models.MessageOutcome)
	onClosed func(err error)
	done     chan struct{}
	framing  protocol.Framing
	bufSize  int
	writeMu  syncutil.Mutex
	closed   atomic.Bool
}

func newChannel(
	conn radio.Conn,
	framing protocol.Framing,
	bufSize int,
	deliver func(models.MessageOutcome),
	onClosed func(err error),
) *Channel {
	if bufSize <= 0 {
		bufSize = DefaultReadBuffer
	}
	ch := &Channel{
		conn:     conn,
		framing:  framing,
		bufSize:  bufSize,
		deliver:  deliver,
		onClosed: onClosed,
		done:     make(chan struct{}),
	}
	ch.closer = syncutil.NewCloseOnce(func() error {
		ch.closed.Store(true)
		err := conn.Close()
		if err != nil {
			return fmt.Errorf("close socket: %w", err)
		}
		return nil
	})
	return ch
}

func (ch *Channel) readLoop() {
	defer close(ch.done)

	buf := make([]byte, ch.bufSize)
	dec := protocol.NewDecoder(ch.framing)
	remote := ch.conn.Remote().Address

	for {
		n, err := ch.conn.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			for _, text := range msgs {
				log.Debug().Str("address", remote).Str("text", text).Msg("message received")
				ch.deliver(models.MessageOutcome{OK: true, Text: text})
			}
			if ferr != nil && err == nil {
				err = ferr
			}
		}
		if err == nil {
			continue
		}

		cause := readCause(err, ch.closed.Load())
		if ch.closed.Load() {
			log.Debug().Str("address", remote).Msg("read loop stopped, socket closed locally")
		} else {
			log.Warn().Err(err).Str("address", remote).Msg("read loop ended")
		}
		ch.deliver(models.MessageOutcome{OK: false, Error: cause})
		if cerr := ch.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("error closing socket after read failure")
		}
		ch.onClosed(models.NewError(models.ErrStreamError, "read", errors.New(cause)))
		return
	}
}

func readCause(err error, local bool) string {
	switch {
	case local:
		return "connection closed"
	case errors.Is(err, io.EOF):
		return "connection closed by peer"
	default:
		return err.Error()
	}
}

// Send writes text as one frame. Concurrent senders are serialised; a send
// after Close fails without touching the socket. A write error ends the
// connection.
func (ch *Channel) Send(text string) (models.MessageOutcome, error) {
	const op = "messages.send"
	if ch.closed.Load() {
		return failedSend(op, errChannelClosed)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if ch.closed.Load() {
		return failedSend(op, errChannelClosed)
	}

	if _, err := ch.conn.Write(protocol.Encode(ch.framing, text)); err != nil {
		log.Error().Err(err).Msg("failed to write message")
		_ = ch.Close()
		return failedSend(op, err)
	}
	if f, ok := ch.conn.(flusher); ok {
		if err := f.Flush(); err != nil {
			_ = ch.Close()
			return failedSend(op, err)
		}
	}

	log.Debug().Str("address", ch.conn.Remote().Address).Str("text", text).Msg("message sent")
	return models.MessageOutcome{OK: true, Text: text, Outbound: true}, nil
}

func failedSend(op string, err error) (models.MessageOutcome, error) {
	herr := models.NewError(models.ErrStreamError, op, err)
	return models.MessageOutcome{OK: false, Error: models.Cause(herr), Outbound: true}, herr
}

// Close closes the socket, which ends the read loop. Safe to call more
// than once.
func (ch *Channel) Close() error {
	return ch.closer.Close()
}

// Done is closed when the read loop has exited.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

func (ch *Channel) Remote() radio.Device {
	return ch.conn.Remote()
}
