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
	"bytes"
	"encoding/json"
	"errors"
)

var ErrInvalidRPCID = errors.New("JSON-RPC ID cannot be an object or array")

// RPCID is a request ID kept as raw JSON so a string, number or null is
// echoed back exactly as the client sent it.
type RPCID struct {
	json.RawMessage
}

// NullRPCID is used in errors for requests whose ID could not be read.
var NullRPCID = RPCID{RawMessage: json.RawMessage("null")}

func (id *RPCID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return ErrInvalidRPCID
	}
	id.RawMessage = append(json.RawMessage(nil), trimmed...)
	return nil
}

func (id RPCID) MarshalJSON() ([]byte, error) {
	if len(id.RawMessage) == 0 {
		return []byte("null"), nil
	}
	return id.RawMessage, nil
}

// IsNotification reports whether the request carried no ID at all, which
// means no response is expected.
func (id *RPCID) IsNotification() bool {
	return id == nil || len(id.RawMessage) == 0
}

func (id *RPCID) Equal(other RPCID) bool {
	if id == nil {
		return len(other.RawMessage) == 0
	}
	return bytes.Equal(id.RawMessage, other.RawMessage)
}

func (id *RPCID) String() string {
	if id.IsNotification() {
		return "null"
	}
	return string(id.RawMessage)
}

func NewStringID(s string) RPCID {
	b, _ := json.Marshal(s)
	return RPCID{RawMessage: b}
}
