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

// Package models holds the JSON-RPC envelope types and the method, param and
// result types of the handshake API.
package models

import (
	"encoding/json"
)

const JSONRPCVersion = "2.0"

const (
	NotificationAdapterChanged    = "adapter.changed"
	NotificationDevicesChanged    = "devices.changed"
	NotificationDiscoveryChanged  = "discovery.changed"
	NotificationConnectionChanged = "connection.changed"
	NotificationMessagesReceived  = "messages.received"
	NotificationPurchaseChanged   = "purchase.changed"
	NotificationPurchaseCompleted = "purchase.completed"
)

const (
	MethodVersion              = "version"
	MethodPermissions          = "permissions"
	MethodPermissionsRequest   = "permissions.request"
	MethodAdapter              = "adapter"
	MethodAdapterEnable        = "adapter.enable"
	MethodDiscoveryStart       = "discovery.start"
	MethodDiscoveryStop        = "discovery.stop"
	MethodDevices              = "devices"
	MethodConnection           = "connection"
	MethodConnectionListen     = "connection.listen"
	MethodConnectionConnect    = "connection.connect"
	MethodConnectionDisconnect = "connection.disconnect"
	MethodMessagesSend         = "messages.send"
	MethodPurchase             = "purchase"
	MethodPurchaseConfirm      = "purchase.confirm"
	MethodPurchaseAccept       = "purchase.accept"
	MethodPurchaseReject       = "purchase.reject"
	MethodCleanup              = "cleanup"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

type RequestObject struct {
	ID      *RPCID          `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ErrorData carries the handshake error kind, e.g. "permission_denied".
type ErrorData struct {
	Kind string `json:"kind,omitempty"`
}

type ErrorObject struct {
	Data    *ErrorData `json:"data,omitempty"`
	Message string     `json:"message"`
	Code    int        `json:"code"`
}

type ResponseObject struct {
	Result  any          `json:"result"`
	Error   *ErrorObject `json:"error,omitempty"`
	JSONRPC string       `json:"jsonrpc"`
	ID      RPCID        `json:"id"`
}

// ResponseErrorObject omits result, which must be absent on errors.
type ResponseErrorObject struct {
	Error   *ErrorObject `json:"error"`
	JSONRPC string       `json:"jsonrpc"`
	ID      RPCID        `json:"id"`
}
