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

// Package simradio is an in-memory radio medium. Every Adapter created from
// the same Medium can discover, listen for and dial the others. It backs the
// unit tests of the handshake components and the testpeer binary.
package simradio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/permissions"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrAddressInUse = errors.New("simradio: service already listening")

type listenKey struct {
	address string
	service uuid.UUID
}

// addressKey matches addresses regardless of hex case.
func addressKey(address string) string {
	return strings.ToUpper(address)
}

func newListenKey(address string, service uuid.UUID) listenKey {
	return listenKey{address: addressKey(address), service: service}
}

// Medium is the shared air between simulated adapters.
type Medium struct {
	adapters  map[string]*Adapter
	listeners map[listenKey]*listener
	mu        syncutil.Mutex
}

func NewMedium() *Medium {
	return &Medium{
		adapters:  make(map[string]*Adapter),
		listeners: make(map[listenKey]*listener),
	}
}

func (m *Medium) peers(self string) []radio.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var devs []radio.Device
	for addr, a := range m.adapters {
		if addr == addressKey(self) || a.Power() != radio.PowerOn {
			continue
		}
		devs = append(devs, a.advertised())
	}
	return devs
}

func (m *Medium) register(l *listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[l.key]; ok {
		return ErrAddressInUse
	}
	m.listeners[l.key] = l
	return nil
}

func (m *Medium) unregister(l *listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.listeners[l.key]; ok && cur == l {
		delete(m.listeners, l.key)
	}
}

func (m *Medium) lookup(key listenKey) (*listener, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listeners[key]
	return l, ok
}

type Option func(*Adapter)

// WithGrants sets the granted platform permission names. Adapters start with
// every permission granted.
func WithGrants(g permissions.Grants) Option {
	return func(a *Adapter) { a.grants = g }
}

// WithAPILevel sets the emulated platform API level used to resolve
// permission names.
func WithAPILevel(level int) Option {
	return func(a *Adapter) { a.apiLevel = level }
}

func WithPower(p radio.Power) Option {
	return func(a *Adapter) { a.power = p }
}

// WithHiddenName makes the adapter's name unreadable to scanners.
func WithHiddenName() Option {
	return func(a *Adapter) { a.hideName = true }
}

func WithBonded(devs ...radio.Device) Option {
	return func(a *Adapter) { a.bonded = devs }
}

// WithAutoEnable makes RequestEnable power the adapter on, as if the user
// accepted the OS prompt.
func WithAutoEnable() Option {
	return func(a *Adapter) { a.autoEnable = true }
}

// WithGrantOnRequest makes RequestPermissions grant everything asked for.
func WithGrantOnRequest() Option {
	return func(a *Adapter) { a.grantOnRequest = true }
}

// WithPrivilegedHook registers a function called before every privileged
// operation, with the operation name.
func WithPrivilegedHook(fn func(op string)) Option {
	return func(a *Adapter) { a.onPrivileged = fn }
}

// Adapter is a simulated radio attached to a Medium.
type Adapter struct {
	medium         *Medium
	grants         permissions.Grants
	onPrivileged   func(op string)
	scan           *radio.ScanHandle
	scanFound      func(radio.Device)
	dev            radio.Device
	watchers       map[int]chan radio.Power
	bonded         []radio.Device
	privileged     atomic.Int64
	apiLevel       int
	power          radio.Power
	nextWatcher    int
	mu             syncutil.Mutex
	deliverMu      syncutil.Mutex
	hideName       bool
	autoEnable     bool
	grantOnRequest bool
}

// NewAdapter attaches a new radio with the given hardware address to the
// medium.
func (m *Medium) NewAdapter(address, name string, opts ...Option) *Adapter {
	a := &Adapter{
		medium:   m,
		dev:      radio.Device{Address: address, Name: name},
		grants:   permissions.All(),
		apiLevel: permissions.APILevelSplit,
		power:    radio.PowerOn,
		watchers: make(map[int]chan radio.Power),
	}
	for _, opt := range opts {
		opt(a)
	}

	m.mu.Lock()
	m.adapters[addressKey(address)] = a
	m.mu.Unlock()
	return a
}

func (a *Adapter) Address() string {
	return a.dev.Address
}

func (a *Adapter) advertised() radio.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hideName {
		return radio.Device{Address: a.dev.Address}
	}
	return a.dev
}

// PrivilegedCalls returns how many privileged operations were attempted.
func (a *Adapter) PrivilegedCalls() int64 {
	return a.privileged.Load()
}

func (a *Adapter) privilegedCall(op string) {
	a.privileged.Add(1)
	if a.onPrivileged != nil {
		a.onPrivileged(op)
	}
}

func (a *Adapter) HasPermissions(perms ...radio.Permission) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grants.Satisfies(a.apiLevel, perms...)
}

func (a *Adapter) RequestPermissions(_ context.Context, perms ...radio.Permission) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grantOnRequest {
		next := make(permissions.Grants, len(a.grants))
		for k, v := range a.grants {
			next[k] = v
		}
		for _, n := range permissions.Required(a.apiLevel, perms...) {
			next[n] = true
		}
		a.grants = next
	}
	return a.grants.Satisfies(a.apiLevel, perms...), nil
}

// SetGrants replaces the granted permissions, e.g. to simulate revocation.
func (a *Adapter) SetGrants(g permissions.Grants) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grants = g
}

func (a *Adapter) Power() radio.Power {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

// SetPower changes the power state and notifies watchers.
func (a *Adapter) SetPower(p radio.Power) {
	a.mu.Lock()
	a.power = p
	watchers := make([]chan radio.Power, 0, len(a.watchers))
	for _, ch := range a.watchers {
		watchers = append(watchers, ch)
	}
	scan := a.scan
	a.mu.Unlock()

	if p != radio.PowerOn && scan != nil {
		scan.Finish(radio.ErrNoAdapter)
	}
	for _, ch := range watchers {
		select {
		case ch <- p:
		default:
			log.Warn().Str("address", a.dev.Address).Msg("simradio: power watcher full, dropping event")
		}
	}
}

func (a *Adapter) RequestEnable(_ context.Context) error {
	a.privilegedCall("enable")
	if a.Power() == radio.PowerAbsent {
		return radio.ErrNoAdapter
	}
	if a.autoEnable {
		go a.SetPower(radio.PowerOn)
	}
	return nil
}

func (a *Adapter) WatchPower(ctx context.Context) (<-chan radio.Power, error) {
	ch := make(chan radio.Power, 8)
	a.mu.Lock()
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = ch
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
	}()
	return ch, nil
}

func (a *Adapter) StartScan(ctx context.Context, found func(radio.Device)) (radio.Scan, error) {
	a.privilegedCall("scan")
	if a.Power() != radio.PowerOn {
		return nil, radio.ErrNoAdapter
	}

	var h *radio.ScanHandle
	h = radio.NewScanHandle(func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.scan == h {
			a.scan = nil
			a.scanFound = nil
		}
		return nil
	})

	a.mu.Lock()
	prev := a.scan
	a.scan = h
	a.scanFound = found
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	peers := a.medium.peers(a.dev.Address)
	go func() {
		for _, d := range peers {
			a.deliver(h, d)
		}
		select {
		case <-ctx.Done():
			_ = h.Stop()
		case <-h.Done():
		}
	}()

	return h, nil
}

func (a *Adapter) deliver(h *radio.ScanHandle, d radio.Device) bool {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()
	a.mu.Lock()
	cur, found := a.scan, a.scanFound
	a.mu.Unlock()
	if cur != h || found == nil {
		return false
	}
	found(d)
	return true
}

// Announce delivers a found event to the running scan, as if the radio heard
// d. Returns false when no scan is running.
func (a *Adapter) Announce(d radio.Device) bool {
	a.mu.Lock()
	h := a.scan
	a.mu.Unlock()
	if h == nil {
		return false
	}
	return a.deliver(h, d)
}

// CompleteScan ends the running scan as if the radio reported the pass
// finished.
func (a *Adapter) CompleteScan(err error) {
	a.mu.Lock()
	h := a.scan
	a.scan = nil
	a.scanFound = nil
	a.mu.Unlock()
	if h != nil {
		h.Finish(err)
	}
}

// Scanning reports whether a discovery pass is running.
func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scan != nil
}

func (a *Adapter) CancelScan() error {
	a.privilegedCall("cancel_scan")
	a.mu.Lock()
	h := a.scan
	a.mu.Unlock()
	if h != nil {
		return h.Stop()
	}
	return nil
}

func (a *Adapter) BondedDevices() ([]radio.Device, error) {
	a.privilegedCall("bonded")
	if a.Power() != radio.PowerOn {
		return nil, radio.ErrNoAdapter
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]radio.Device, len(a.bonded))
	copy(out, a.bonded)
	return out, nil
}

func (a *Adapter) Listen(svc radio.ServiceRecord) (radio.Listener, error) {
	a.privilegedCall("listen")
	if a.Power() != radio.PowerOn {
		return nil, radio.ErrNoAdapter
	}
	l := &listener{
		medium:  a.medium,
		local:   a.advertised(),
		key:     newListenKey(a.dev.Address, svc.ID),
		name:    svc.Name,
		pending: make(chan *dialRequest),
		closed:  make(chan struct{}),
	}
	if err := a.medium.register(l); err != nil {
		return nil, err
	}
	l.closer = syncutil.NewCloseOnce(func() error {
		a.medium.unregister(l)
		close(l.closed)
		return nil
	})
	return l, nil
}

func (a *Adapter) Dial(ctx context.Context, address string, svc radio.ServiceRecord) (radio.Conn, error) {
	a.privilegedCall("dial")
	if a.Power() != radio.PowerOn {
		return nil, radio.ErrNoAdapter
	}
	l, ok := a.medium.lookup(newListenKey(address, svc.ID))
	if !ok {
		return nil, fmt.Errorf("dial %s: %w", address, radio.ErrDeviceNotFound)
	}

	req := &dialRequest{
		from:  a.advertised(),
		reply: make(chan radio.Conn, 1),
	}
	select {
	case l.pending <- req:
	case <-l.closed:
		return nil, fmt.Errorf("dial %s: connection refused: %w", address, radio.ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("dial %s: %w", address, ctx.Err())
	}
	return <-req.reply, nil
}

type dialRequest struct {
	reply chan radio.Conn
	from  radio.Device
}

type listener struct {
	medium  *Medium
	closer  *syncutil.CloseOnce
	pending chan *dialRequest
	closed  chan struct{}
	local   radio.Device
	name    string
	key     listenKey
}

func (l *listener) Accept() (radio.Conn, error) {
	select {
	case req := <-l.pending:
		server, client := newConnPair(l.local, req.from)
		req.reply <- client
		return server, nil
	case <-l.closed:
		return nil, fmt.Errorf("accept: %w", radio.ErrClosed)
	}
}

func (l *listener) Close() error {
	return l.closer.Close()
}
