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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/methods"
	apimiddleware "github.com/campusmarket/handshake-core/pkg/api/middleware"
	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/api/models/requests"
	"github.com/campusmarket/handshake-core/pkg/api/validation"
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	hsmodels "github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

var (
	JSONRPCErrorParseError = models.ErrorObject{
		Code:    -32700,
		Message: "Parse error",
	}
	JSONRPCErrorInvalidRequest = models.ErrorObject{
		Code:    -32600,
		Message: "Invalid Request",
	}
	JSONRPCErrorMethodNotFound = models.ErrorObject{
		Code:    -32601,
		Message: "Method not found",
	}
	JSONRPCErrorInvalidParams = models.ErrorObject{
		Code:    -32602,
		Message: "Invalid params",
	}
	JSONRPCErrorServerError = models.ErrorObject{
		Code:    -32000,
		Message: "Server error",
	}
)

var ErrMethodExists = errors.New("method already registered")

const (
	maxMessageSize = 128 * 1024
	pingMessage    = "ping"
	pongMessage    = "pong"
)

type MethodFunc func(requests.RequestEnv) (any, error)

type MethodMap struct {
	methods map[string]MethodFunc
	mu      syncutil.RWMutex
}

// NewMethodMap returns a map holding every handshake API method.
func NewMethodMap() *MethodMap {
	return &MethodMap{
		methods: map[string]MethodFunc{
			models.MethodVersion: methods.HandleVersion,
			models.MethodCleanup: methods.HandleCleanup,
			// permissions and adapter
			models.MethodPermissions:        methods.HandlePermissions,
			models.MethodPermissionsRequest: methods.HandlePermissionsRequest,
			models.MethodAdapter:            methods.HandleAdapter,
			models.MethodAdapterEnable:      methods.HandleAdapterEnable,
			// discovery
			models.MethodDiscoveryStart: methods.HandleDiscoveryStart,
			models.MethodDiscoveryStop:  methods.HandleDiscoveryStop,
			models.MethodDevices:        methods.HandleDevices,
			// connection
			models.MethodConnection:           methods.HandleConnection,
			models.MethodConnectionListen:     methods.HandleConnectionListen,
			models.MethodConnectionConnect:    methods.HandleConnectionConnect,
			models.MethodConnectionDisconnect: methods.HandleConnectionDisconnect,
			models.MethodMessagesSend:         methods.HandleMessagesSend,
			// purchase
			models.MethodPurchase:        methods.HandlePurchase,
			models.MethodPurchaseConfirm: methods.HandlePurchaseConfirm,
			models.MethodPurchaseAccept:  methods.HandlePurchaseAccept,
			models.MethodPurchaseReject:  methods.HandlePurchaseReject,
		},
	}
}

func (m *MethodMap) AddMethod(name string, fn MethodFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.ToLower(name)
	if _, ok := m.methods[name]; ok {
		return fmt.Errorf("%w: %s", ErrMethodExists, name)
	}
	m.methods[name] = fn
	return nil
}

func (m *MethodMap) GetMethod(name string) (MethodFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[strings.ToLower(name)]
	return fn, ok
}

// errorObject maps a method error to its JSON-RPC error. Handshake errors
// carry their kind in data.
func errorObject(err error) models.ErrorObject {
	var verr *validation.Error
	if errors.As(err, &verr) ||
		errors.Is(err, validation.ErrMissingParams) ||
		errors.Is(err, validation.ErrInvalidParams) {
		obj := JSONRPCErrorInvalidParams
		obj.Message = err.Error()
		return obj
	}

	obj := JSONRPCErrorServerError
	obj.Message = err.Error()
	if kind := hsmodels.KindName(err); kind != "" {
		obj.Data = &models.ErrorData{Kind: kind}
	}
	return obj
}

func marshalError(id models.RPCID, obj models.ErrorObject) []byte {
	data, err := json.Marshal(models.ResponseErrorObject{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Error:   &obj,
	})
	if err != nil {
		log.Error().Err(err).Msg("error marshalling error response")
		return nil
	}
	return data
}

// processRequest handles one JSON-RPC payload and returns the encoded
// response, or nil when none is due (notifications and client responses).
//
//nolint:gocritic // env is a per-request copy
func processRequest(methodMap *MethodMap, env requests.RequestEnv, msg []byte) []byte {
	if !json.Valid(msg) {
		log.Warn().Msg("request is not valid json")
		return marshalError(models.NullRPCID, JSONRPCErrorParseError)
	}

	var req models.RequestObject
	if err := json.Unmarshal(msg, &req); err != nil {
		log.Warn().Err(err).Msg("error decoding request")
		return marshalError(models.NullRPCID, JSONRPCErrorInvalidRequest)
	}

	id := models.NullRPCID
	if !req.ID.IsNotification() {
		id = *req.ID
	}

	if req.JSONRPC != models.JSONRPCVersion {
		log.Warn().Str("jsonrpc", req.JSONRPC).Msg("unsupported payload version")
		return marshalError(id, JSONRPCErrorInvalidRequest)
	}

	if req.Method == "" {
		var resp models.ResponseObject
		if err := json.Unmarshal(msg, &resp); err == nil && !req.ID.IsNotification() {
			log.Debug().Str("id", id.String()).Msg("ignoring response from client")
			return nil
		}
		return marshalError(id, JSONRPCErrorInvalidRequest)
	}

	fn, ok := methodMap.GetMethod(req.Method)
	if !ok {
		log.Warn().Str("method", req.Method).Msg("unknown method")
		if req.ID.IsNotification() {
			return nil
		}
		return marshalError(id, JSONRPCErrorMethodNotFound)
	}

	ctx := env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()
	env.Context = ctx
	env.Params = req.Params
	env.ID = id

	log.Debug().Str("method", req.Method).Str("id", id.String()).Msg("received request")
	result, err := fn(env)
	if req.ID.IsNotification() {
		if err != nil {
			log.Warn().Err(err).Str("method", req.Method).Msg("notification failed")
		}
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("method", req.Method).Msg("request failed")
		return marshalError(id, errorObject(err))
	}

	data, err := json.Marshal(models.ResponseObject{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Result:  result,
	})
	if err != nil {
		log.Error().Err(err).Msg("error marshalling response")
		return marshalError(id, JSONRPCErrorServerError)
	}
	return data
}

func handleWSMessage(
	ctx context.Context,
	methodMap *MethodMap,
	cfg *config.Instance,
	core *handshake.Core,
) func(session *melody.Session, msg []byte) {
	return func(session *melody.Session, msg []byte) {
		// heartbeat
		if string(msg) == pingMessage {
			if err := session.Write([]byte(pongMessage)); err != nil {
				log.Error().Err(err).Msg("sending pong")
			}
			return
		}

		ip := apimiddleware.ParseRemoteIP(session.Request.RemoteAddr)
		resp := processRequest(methodMap, requests.RequestEnv{
			Context: ctx,
			Core:    core,
			Config:  cfg,
			IsLocal: ip != nil && ip.IsLoopback(),
		}, msg)
		if resp == nil {
			return
		}
		if err := session.Write(resp); err != nil {
			log.Error().Err(err).Msg("error sending response")
		}
	}
}

// handlePostRequest serves single JSON-RPC requests over plain HTTP. Errors
// are reported in the body with status 200.
func handlePostRequest(
	ctx context.Context,
	methodMap *MethodMap,
	cfg *config.Instance,
	core *handshake.Core,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}

		ip := apimiddleware.ParseRemoteIP(r.RemoteAddr)
		resp := processRequest(methodMap, requests.RequestEnv{
			Context: ctx,
			Core:    core,
			Config:  cfg,
			IsLocal: ip != nil && ip.IsLoopback(),
		}, body)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(resp); err != nil {
			log.Error().Err(err).Msg("error writing http response")
		}
	}
}

func broadcastNotifications(
	ctx context.Context,
	session *melody.Melody,
	notifications <-chan models.Notification,
) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("stopping notification broadcast")
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(models.RequestObject{
				JSONRPC: models.JSONRPCVersion,
				Method:  notif.Method,
				Params:  notif.Params,
			})
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification request")
				continue
			}
			if err := session.Broadcast(data); err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// originAllowed accepts non-browser clients, loopback pages and the
// configured origins. A single "*" entry allows everything.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Hostname() == "localhost" {
		return true
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.IsLoopback() {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

type Server struct {
	srv     *http.Server
	ln      net.Listener
	melody  *melody.Melody
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu syncutil.Mutex
	closed  bool
}

func newRouter(
	ctx context.Context,
	cfg *config.Instance,
	core *handshake.Core,
	methodMap *MethodMap,
	limiter *apimiddleware.IPRateLimiter,
) (*chi.Mux, *melody.Melody) {
	origins := append([]string{"http://localhost:*", "http://127.0.0.1:*"}, cfg.AllowedOrigins()...)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(apimiddleware.HTTPRateLimitMiddleware(limiter))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	m := melody.New()
	m.Config.MaxMessageSize = maxMessageSize
	m.Upgrader.CheckOrigin = func(r *http.Request) bool {
		return originAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins())
	}
	m.HandleConnect(func(s *melody.Session) {
		log.Debug().Str("remote", s.Request.RemoteAddr).Msg("api client connected")
	})
	m.HandleDisconnect(func(s *melody.Session) {
		log.Debug().Str("remote", s.Request.RemoteAddr).Msg("api client disconnected")
	})
	m.HandleMessage(apimiddleware.WebSocketRateLimitHandler(
		limiter,
		handleWSMessage(ctx, methodMap, cfg, core),
	))

	r.Get(config.APIPath, func(w http.ResponseWriter, r *http.Request) {
		if err := m.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})
	r.Post(config.APIPath, handlePostRequest(ctx, methodMap, cfg, core))

	return r, m
}

// Start binds the API listener and serves it in the background. The server
// is ready for connections when Start returns.
func Start(
	ctx context.Context,
	cfg *config.Instance,
	core *handshake.Core,
	notifications <-chan models.Notification,
) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.APIListen())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	limiter := apimiddleware.NewIPRateLimiter(clockwork.NewRealClock())
	limiter.StartCleanup(ctx)

	router, m := newRouter(ctx, cfg, core, NewMethodMap(), limiter)
	s := &Server{
		srv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		melody: m,
		cancel: cancel,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		broadcastNotifications(ctx, m, notifications)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("api server listening")
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown closes websocket sessions and stops the HTTP server, waiting up
// to ctx for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	if err := s.melody.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
