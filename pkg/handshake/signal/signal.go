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

// Package signal is a last-value observable. A single writer publishes
// snapshots; every subscriber first receives the current value and then
// later values in publish order. A slow subscriber loses intermediate
// values, never the newest one.
package signal

import (
	"context"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
)

type Value[T any] struct {
	cur    T
	subs   map[int]chan T
	nextID int
	mu     syncutil.Mutex
	closed bool
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[int]chan T),
	}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLocked(x)
}

// Update applies fn to the current value and publishes the result, as one
// step with respect to other writers.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := fn(v.cur)
	v.setLocked(next)
	return next
}

// UpdateIf is Update that only publishes when fn reports a change.
func (v *Value[T]) UpdateIf(fn func(T) (T, bool)) (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, ok := fn(v.cur)
	if !ok {
		return v.cur, false
	}
	v.setLocked(next)
	return next, true
}

func (v *Value[T]) setLocked(x T) {
	v.cur = x
	if v.closed {
		return
	}
	for _, ch := range v.subs {
		offer(ch, x)
	}
}

// offer pushes x, evicting the oldest queued value when the buffer is full.
// Only called with v.mu held, so no other sender competes for the slot.
func offer[T any](ch chan T, x T) {
	for {
		select {
		case ch <- x:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel primed with the current value. buffer is the
// number of values queued before the oldest is dropped, minimum 1. The
// returned cancel func closes the channel and is safe to call twice.
func (v *Value[T]) Subscribe(buffer int) (updates <-chan T, cancel func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	v.mu.Lock()
	defer v.mu.Unlock()
	ch <- v.cur
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
}

// WaitFor blocks until a published value satisfies pred, including the
// current one.
func (v *Value[T]) WaitFor(ctx context.Context, pred func(T) bool) (T, error) {
	updates, cancel := v.Subscribe(16)
	defer cancel()
	for {
		select {
		case x, ok := <-updates:
			if !ok {
				var zero T
				return zero, context.Canceled
			}
			if pred(x) {
				return x, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close ends every subscription. Later Sets still update the current value.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		close(ch)
		delete(v.subs, id)
	}
}
