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

package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against an *Error.
var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	ErrDiscoveryFailed    = errors.New("discovery failed")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrStreamError        = errors.New("stream error")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrPermissionDenied, "permission_denied"},
	{ErrAdapterUnavailable, "adapter_unavailable"},
	{ErrDiscoveryFailed, "discovery_failed"},
	{ErrConnectionFailed, "connection_failed"},
	{ErrStreamError, "stream_error"},
}

// Error is returned by every public handshake operation.
type Error struct {
	Kind error
	Err  error
	Op   string
}

// NewError builds an *Error. err may be nil.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns the wire name of err's kind, or "" when err carries none.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}

// Cause returns the human readable cause carried by err, without the op
// prefix.
func Cause(err error) string {
	var he *Error
	if errors.As(err, &he) {
		if he.Err != nil {
			return he.Err.Error()
		}
		return he.Kind.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
