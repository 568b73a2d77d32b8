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

// Package middleware holds the HTTP and websocket wrappers of the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RequestsPerMinute = 120
	BurstSize         = 20

	limiterMaxAge   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute

	rateLimitCode = -32000
)

// ParseRemoteIP returns the IP of a host:port RemoteAddr, or nil.
func ParseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// IPRateLimiter keeps one token bucket per client IP, shared by HTTP
// requests and websocket messages.
type IPRateLimiter struct {
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	mu       syncutil.Mutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(clock clockwork.Clock) *IPRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IPRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(RequestsPerMinute)/60.0), BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Cleanup drops limiters of clients not seen for a while.
func (rl *IPRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterMaxAge {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
}

func (rl *IPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// StartCleanup runs Cleanup periodically until ctx is done.
func (rl *IPRateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := rl.clock.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rl *IPRateLimiter) allow(remoteAddr string) (string, bool) {
	host := remoteAddr
	if ip := ParseRemoteIP(remoteAddr); ip != nil {
		host = ip.String()
	}
	return host, rl.GetLimiter(host).Allow()
}

func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, ok := limiter.allow(r.RemoteAddr)
			if !ok {
				log.Warn().
					Str("ip", host).
					Str("path", r.URL.Path).
					Msg("http rate limit exceeded")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebSocketRateLimitHandler answers over-limit messages with a JSON-RPC
// error instead of passing them to handler.
func WebSocketRateLimitHandler(
	limiter *IPRateLimiter,
	handler func(*melody.Session, []byte),
) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		host, ok := limiter.allow(session.Request.RemoteAddr)
		if ok {
			handler(session, msg)
			return
		}

		log.Warn().Str("ip", host).Int("msg_size", len(msg)).Msg("websocket rate limit exceeded")
		data, err := json.Marshal(models.ResponseErrorObject{
			JSONRPC: models.JSONRPCVersion,
			ID:      models.NullRPCID,
			Error: &models.ErrorObject{
				Code:    rateLimitCode,
				Message: "Rate limit exceeded",
			},
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal rate limit error")
			return
		}
		if err := session.Write(data); err != nil {
			log.Error().Err(err).Msg("failed to send rate limit error")
		}
	}
}
