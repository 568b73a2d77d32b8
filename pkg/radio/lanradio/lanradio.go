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

// Package lanradio is a radio backend for machines without Bluetooth: stream
// sockets are TCP connections on the local network, and listening peers are
// advertised and discovered over mDNS.
package lanradio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const powerPollInterval = 5 * time.Second

var errCannotEnable = errors.New("lanradio: network must be enabled by the user")

type Options struct {
	Clock clockwork.Clock
	// DeviceID is advertised as the peer address.
	DeviceID string
	Name     string
	// ListenAddr is the TCP address to listen on, ":0" by default.
	ListenAddr string
	// DisableAdvertise skips mDNS registration; peers must dial host:port.
	DisableAdvertise bool
}

type peerEntry struct {
	name     string
	hostport string
}

// Adapter implements radio.Adapter over TCP and mDNS. LAN sockets need no OS
// permissions, so every permission is reported as granted.
type Adapter struct {
	opts       Options
	peers      map[string]peerEntry
	interfaces func() ([]net.Interface, error)
	scan       *radio.ScanHandle
	mu         syncutil.Mutex
}

func New(opts Options) *Adapter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":0"
	}
	return &Adapter{
		opts:       opts,
		peers:      make(map[string]peerEntry),
		interfaces: preferredInterfaces,
	}
}

func (*Adapter) HasPermissions(...radio.Permission) bool {
	return true
}

func (*Adapter) RequestPermissions(context.Context, ...radio.Permission) (bool, error) {
	return true, nil
}

// Power is on while at least one usable network interface is up.
func (a *Adapter) Power() radio.Power {
	ifaces, err := a.interfaces()
	if err != nil {
		return radio.PowerAbsent
	}
	if len(ifaces) == 0 {
		return radio.PowerOff
	}
	return radio.PowerOn
}

func (a *Adapter) RequestEnable(context.Context) error {
	if a.Power() == radio.PowerOn {
		return nil
	}
	return errCannotEnable
}

// WatchPower polls the interface list, since there is no portable
// notification for it.
func (a *Adapter) WatchPower(ctx context.Context) (<-chan radio.Power, error) {
	ch := make(chan radio.Power, 1)
	go func() {
		defer close(ch)
		last := a.Power()
		ticker := a.opts.Clock.NewTicker(powerPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				p := a.Power()
				if p == last {
					continue
				}
				last = p
				select {
				case ch <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (a *Adapter) StartScan(ctx context.Context, found func(radio.Device)) (radio.Scan, error) {
	ifaces, err := a.interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", radio.ErrNoAdapter, err)
	}
	if len(ifaces) == 0 {
		return nil, radio.ErrNoAdapter
	}

	resolver, err := zeroconf.NewResolver(zeroconf.SelectIfaces(ifaces))
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	h := radio.NewScanHandle(func() error {
		cancel()
		return nil
	})

	a.mu.Lock()
	prev := a.scan
	a.scan = h
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, ServiceType, "local.", entries); err != nil {
		_ = h.Stop()
		return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	go func() {
		defer func() {
			a.mu.Lock()
			if a.scan == h {
				a.scan = nil
			}
			a.mu.Unlock()
			_ = h.Stop()
		}()
		for {
			select {
			case <-browseCtx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				if d, ok := a.remember(e); ok {
					found(d)
				}
			}
		}
	}()

	log.Debug().Strs("interfaces", interfaceNames(ifaces)).Msg("browsing for handshake peers")
	return h, nil
}

// remember records where a browsed peer can be dialled.
func (a *Adapter) remember(e *zeroconf.ServiceEntry) (radio.Device, bool) {
	txt := parseTXT(e.Text)
	id := txt["id"]
	if id == "" || id == a.opts.DeviceID {
		return radio.Device{}, false
	}

	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(e.HostName, ".")
	}
	if host == "" {
		return radio.Device{}, false
	}

	entry := peerEntry{
		name:     txt["name"],
		hostport: net.JoinHostPort(host, strconv.Itoa(e.Port)),
	}
	a.mu.Lock()
	a.peers[strings.ToUpper(id)] = entry
	a.mu.Unlock()

	return radio.Device{Address: id, Name: entry.name}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

func interfaceNames(ifaces []net.Interface) []string {
	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}
	return names
}

func (a *Adapter) CancelScan() error {
	a.mu.Lock()
	h := a.scan
	a.scan = nil
	a.mu.Unlock()
	if h != nil {
		return h.Stop()
	}
	return nil
}

// BondedDevices returns the peers browsed so far. There is no pairing on a
// LAN, so these are the closest equivalent.
func (a *Adapter) BondedDevices() ([]radio.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]radio.Device, 0, len(a.peers))
	for id, p := range a.peers {
		out = append(out, radio.Device{Address: id, Name: p.name})
	}
	return out, nil
}

func (a *Adapter) Listen(svc radio.ServiceRecord) (radio.Listener, error) {
	var lc net.ListenConfig
	nl, err := lc.Listen(context.Background(), "tcp", a.opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.opts.ListenAddr, err)
	}

	l := &listener{ln: nl}
	if !a.opts.DisableAdvertise {
		port := nl.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
		name := a.opts.Name
		if name == "" {
			name = a.opts.DeviceID
		}
		l.adv = newAdvertiser(name, port, []string{
			"id=" + a.opts.DeviceID,
			"name=" + a.opts.Name,
			"svc=" + svc.ID.String(),
			"service=" + svc.Name,
		})
		l.adv.start()
	}

	log.Info().Str("addr", nl.Addr().String()).Str("service", svc.Name).Msg("tcp listener open")
	return l, nil
}

// Dial resolves address through the peers seen while browsing, and falls
// back to treating it as host:port.
func (a *Adapter) Dial(ctx context.Context, address string, _ radio.ServiceRecord) (radio.Conn, error) {
	a.mu.Lock()
	entry, ok := a.peers[strings.ToUpper(address)]
	a.mu.Unlock()

	target := entry.hostport
	if !ok {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("dial %s: %w", address, radio.ErrDeviceNotFound)
		}
		target = address
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &conn{Conn: nc, remote: radio.Device{Address: address, Name: entry.name}}, nil
}

type listener struct {
	ln  net.Listener
	adv *advertiser
}

// Addr returns the bound TCP address.
func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *listener) Accept() (radio.Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("accept: %w", radio.ErrClosed)
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return &conn{Conn: nc, remote: radio.Device{Address: nc.RemoteAddr().String()}}, nil
}

func (l *listener) Close() error {
	if l.adv != nil {
		l.adv.stop()
	}
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

type conn struct {
	net.Conn
	remote radio.Device
}

func (c *conn) Remote() radio.Device {
	return c.remote
}

func (c *conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil && errors.Is(err, net.ErrClosed) {
		return n, fmt.Errorf("read: %w", radio.ErrClosed)
	}
	return n, err //nolint:wrapcheck // io.EOF must stay unwrapped for readers
}

func (c *conn) Close() error {
	if err := c.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
