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

package syncutil

import "sync"

// CloseOnce wraps a release function so it runs at most once. Later calls
// return the first call's error, which makes double close and double
// unregister a no-op for callers.
type CloseOnce struct {
	fn   func() error
	err  error
	once sync.Once
}

func NewCloseOnce(fn func() error) *CloseOnce {
	return &CloseOnce{fn: fn}
}

func (c *CloseOnce) Close() error {
	c.once.Do(func() {
		if c.fn != nil {
			c.err = c.fn()
		}
	})
	return c.err
}
