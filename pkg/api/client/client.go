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

// Package client talks JSON-RPC to a running handshake service over its
// local websocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrInvalidParams    = errors.New("invalid params")
	ErrRequestCancelled = errors.New("request cancelled")
)

// RPCError is an error response returned by the service.
type RPCError struct {
	Kind    string
	Message string
	Code    int
}

func (e *RPCError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// localURL points at the API on loopback, even when the service binds all
// interfaces.
func localURL(cfg *config.Instance) url.URL {
	host, port, err := net.SplitHostPort(cfg.APIListen())
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, port),
		Path:   config.APIPath,
	}
}

func dial(ctx context.Context, cfg *config.Instance) (*websocket.Conn, error) {
	u := localURL(cfg)
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	return c, nil
}

func closeConn(c *websocket.Conn) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing websocket")
	}
}

// readUntil reads messages until match returns true or the socket fails.
// The result channel is closed once reading stops.
func readUntil(c *websocket.Conn, match func([]byte) bool) <-chan []byte {
	done := make(chan []byte, 1)
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("websocket read stopped")
				return
			}
			if match(message) {
				done <- message
				return
			}
		}
	}()
	return done
}

func wait(ctx context.Context, c *websocket.Conn, done <-chan []byte, timeout time.Duration) ([]byte, error) {
	var timerChan <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerChan = timer.C
	}
	// a negative timeout leaves timerChan nil and waits for ctx only

	select {
	case msg, ok := <-done:
		if !ok {
			return nil, ErrRequestTimeout
		}
		return msg, nil
	case <-timerChan:
		closeConn(c)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		closeConn(c)
		return nil, ErrRequestCancelled
	}
}

// LocalClient sends a single method with params to the local running API
// service, waits for a response until timeout then disconnects.
func LocalClient(
	ctx context.Context,
	cfg *config.Instance,
	method string,
	params string,
) (string, error) {
	id := models.NewStringID(uuid.NewString())
	req := models.RequestObject{
		JSONRPC: models.JSONRPCVersion,
		ID:      &id,
		Method:  method,
	}
	if params != "" {
		if !json.Valid([]byte(params)) {
			return "", ErrInvalidParams
		}
		req.Params = json.RawMessage(params)
	}

	c, err := dial(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeConn(c)

	done := readUntil(c, func(msg []byte) bool {
		var m models.ResponseObject
		if err := json.Unmarshal(msg, &m); err != nil {
			return false
		}
		return m.JSONRPC == models.JSONRPCVersion && id.Equal(m.ID)
	})

	if err := c.WriteJSON(req); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	msg, err := wait(ctx, c, done, config.APIRequestTimeout)
	if err != nil {
		return "", err
	}

	var resp struct {
		Error  *models.ErrorObject `json:"error"`
		Result json.RawMessage     `json:"result"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		rerr := &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		if resp.Error.Data != nil {
			rerr.Kind = resp.Error.Data.Kind
		}
		return "", rerr
	}
	if len(resp.Result) == 0 {
		return "null", nil
	}
	return string(resp.Result), nil
}

// WaitNotification blocks until a notification with the given method
// arrives and returns its params. A zero timeout uses the API request
// timeout, a negative one waits until ctx is done.
func WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	cfg *config.Instance,
	method string,
) (string, error) {
	c, err := dial(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeConn(c)

	done := readUntil(c, func(msg []byte) bool {
		var m models.RequestObject
		if err := json.Unmarshal(msg, &m); err != nil {
			return false
		}
		return m.JSONRPC == models.JSONRPCVersion && m.ID.IsNotification() && m.Method == method
	})

	if timeout == 0 {
		timeout = config.APIRequestTimeout
	}
	msg, err := wait(ctx, c, done, timeout)
	if err != nil {
		return "", err
	}

	var notif models.RequestObject
	if err := json.Unmarshal(msg, &notif); err != nil {
		return "", fmt.Errorf("failed to decode notification: %w", err)
	}
	if len(notif.Params) == 0 {
		return "null", nil
	}
	return string(notif.Params), nil
}
