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

// Package helpers provides shared setup for tests that talk to a running
// API server or need a ready config.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

var errUnexpectedMessage = errors.New("unexpected message")

// JSONRPCResponse is a decoded response with the result left raw.
type JSONRPCResponse struct {
	Error  *models.ErrorObject `json:"error,omitempty"`
	ID     string              `json:"id"`
	Result json.RawMessage     `json:"result,omitempty"`
}

// DialAPI opens a websocket to the API served at addr and closes it when the
// test ends.
func DialAPI(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+config.APIPath, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJSONRPCRequest sends a request with a fresh id and reads until the
// matching response, skipping notifications.
func SendJSONRPCRequest(conn *websocket.Conn, method string, params any) (*JSONRPCResponse, error) {
	id := uuid.NewString()
	rpcID := models.NewStringID(id)
	req := models.RequestObject{
		ID:      &rpcID,
		JSONRPC: models.JSONRPCVersion,
		Method:  method,
	}
	var err error
	if params != nil {
		req.Params, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		var probe struct {
			ID     *string `json:"id"`
			Method string  `json:"method"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			return nil, fmt.Errorf("%w: %s", errUnexpectedMessage, msg)
		}
		if probe.Method != "" || probe.ID == nil || *probe.ID != id {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &resp, nil
	}
}

// AssertJSONRPCSuccess fails unless response has no error, and decodes the
// result into out when out is non-nil.
func AssertJSONRPCSuccess(t *testing.T, response *JSONRPCResponse, out any) {
	t.Helper()
	require.NotNil(t, response)
	require.Nil(t, response.Error, "unexpected error response")
	if out != nil {
		require.NoError(t, json.Unmarshal(response.Result, out))
	}
}

// AssertJSONRPCError fails unless response carries the given code and, when
// kind is set, the given handshake error kind.
func AssertJSONRPCError(t *testing.T, response *JSONRPCResponse, code int, kind string) {
	t.Helper()
	require.NotNil(t, response)
	require.NotNil(t, response.Error, "expected error response")
	require.Equal(t, code, response.Error.Code)
	if kind != "" {
		require.NotNil(t, response.Error.Data)
		require.Equal(t, kind, response.Error.Data.Kind)
	}
}
