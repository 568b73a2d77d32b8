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
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/campusmarket/handshake-core/pkg/radio"
)

// halfPipe is one direction of a simulated stream. Writes never block; reads
// block until data arrives or either end closes.
type halfPipe struct {
	cond   *sync.Cond
	buf    bytes.Buffer
	mu     sync.Mutex //nolint:forbidigo // sync.Cond needs a sync.Locker it can own
	closed bool
}

func newHalfPipe() *halfPipe {
	p := &halfPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *halfPipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *halfPipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() > 0 {
		n, _ := p.buf.Read(b)
		return n, nil
	}
	return 0, io.EOF
}

func (p *halfPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// conn is one end of a simulated stream socket.
type conn struct {
	in     *halfPipe
	out    *halfPipe
	remote radio.Device
	mu     sync.Mutex //nolint:forbidigo // guards closed only
	closed bool
}

func newConnPair(a, b radio.Device) (ab, ba *conn) {
	aToB := newHalfPipe()
	bToA := newHalfPipe()
	ab = &conn{in: bToA, out: aToB, remote: b}
	ba = &conn{in: aToB, out: bToA, remote: a}
	return ab, ba
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Read(b []byte) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("read: %w", radio.ErrClosed)
	}
	n, err := c.in.read(b)
	if err != nil && c.isClosed() {
		return n, fmt.Errorf("read: %w", radio.ErrClosed)
	}
	return n, err //nolint:wrapcheck // io.EOF must stay unwrapped for readers
}

func (c *conn) Write(b []byte) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("write: %w", radio.ErrClosed)
	}
	n, err := c.out.write(b)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Close closes both directions so the peer sees EOF and the local reader
// is released.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.in.close()
	c.out.close()
	return nil
}

func (c *conn) Remote() radio.Device {
	return c.remote
}
