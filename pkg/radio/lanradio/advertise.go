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

package lanradio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type a listening peer advertises.
const ServiceType = "_handshake._tcp"

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
)

// virtualInterfacePrefixes lists container and VPN interfaces peers on the
// same room network will never be reachable through.
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

func preferredInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return filterInterfaces(all), nil
}

// filterInterfaces keeps interfaces that are up, not loopback, multicast
// capable and not virtual.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		// mDNS requires multicast
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// advertiser publishes one listening socket over mDNS. When the network is
// not ready it keeps retrying in the background until Stop.
type advertiser struct {
	server   *zeroconf.Server
	cancel   context.CancelFunc
	register func(instance string, port int, txt []string, ifaces []net.Interface) (*zeroconf.Server, error)
	instance string
	txt      []string
	port     int
	stopped  bool
	mu       syncutil.Mutex
}

func newAdvertiser(instance string, port int, txt []string) *advertiser {
	return &advertiser{
		instance: instance,
		port:     port,
		txt:      txt,
		register: func(instance string, port int, txt []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return zeroconf.Register(instance, ServiceType, "local.", port, txt, ifaces) //nolint:wrapcheck // wrapped by caller
		},
	}
}

func (a *advertiser) start() {
	if a.tryRegister() {
		return
	}

	log.Info().
		Dur("retryInterval", retryInterval).
		Dur("maxDuration", maxRetryDuration).
		Msg("mdns registration failed, retrying in background")

	ctx, cancel := context.WithTimeout(context.Background(), maxRetryDuration)
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		cancel()
		return
	}
	a.cancel = cancel
	a.mu.Unlock()

	go a.retryLoop(ctx)
}

func (a *advertiser) tryRegister() bool {
	ifaces, err := preferredInterfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to get network interfaces")
		return false
	}
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces found for mdns")
		return false
	}

	server, err := a.register(a.instance, a.port, a.txt, ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mdns registration attempt failed")
		return false
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		server.Shutdown()
		return false
	}
	a.server = server
	a.mu.Unlock()

	log.Info().
		Str("instance", a.instance).
		Int("port", a.port).
		Str("type", ServiceType).
		Msg("advertising handshake service")
	return true
}

func (a *advertiser) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.tryRegister() {
				log.Info().Msg("mdns registration succeeded after retry")
				return
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Warn().Msg("mdns registration retry timed out, peers must dial by address")
			}
			return
		}
	}
}

// stop sends goodbye packets. Safe to call more than once.
func (a *advertiser) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.server != nil {
		log.Debug().Str("instance", a.instance).Msg("stopping mdns advertising")
		a.server.Shutdown()
		a.server = nil
	}
}
