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

//go:build linux

// Package bluez is the Linux radio backend. Adapter power and discovery go
// through the BlueZ D-Bus API; stream sockets are RFCOMM file descriptors,
// handed to a registered Profile1 object on the listening side and dialled
// directly on the connecting side.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	profileIface       = "org.bluez.Profile1"
	profileManager     = "org.bluez.ProfileManager1"
	propsIface         = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"

	DefaultAdapter = "hci0"
	DefaultChannel = 22

	busCheckTimeout = 3 * time.Second
)

type Options struct {
	// Adapter is the controller name, hci0 by default.
	Adapter string
	// Channel is the RFCOMM channel the profile is registered on and
	// dialled at.
	Channel uint8
}

// Adapter implements radio.Adapter on top of bluetoothd.
type Adapter struct {
	conn        *dbus.Conn
	scan        *radio.ScanHandle
	adapterPath dbus.ObjectPath
	opts        Options
	profileSeq  atomic.Uint64
	mu          syncutil.Mutex
}

// New opens a private system bus connection and checks that bluetoothd is
// running.
func New(opts Options) (*Adapter, error) {
	if opts.Adapter == "" {
		opts.Adapter = DefaultAdapter
	}
	if opts.Channel == 0 {
		opts.Channel = DefaultChannel
	}

	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("authenticate to system bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("system bus hello: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), busCheckTimeout)
	defer cancel()
	var names []string
	call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0)
	if err := call.Store(&names); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		_ = conn.Close()
		return nil, fmt.Errorf("org.bluez not on system bus, is bluetooth.service running: %w", radio.ErrNoAdapter)
	}

	return &Adapter{
		conn:        conn,
		opts:        opts,
		adapterPath: dbus.ObjectPath("/org/bluez/" + opts.Adapter),
	}, nil
}

func (a *Adapter) Close() error {
	_ = a.CancelScan()
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("close system bus: %w", err)
	}
	return nil
}

// HasPermissions always succeeds: bluetoothd enforces access through its
// D-Bus policy, and a refusal surfaces as ErrAccessDenied from the call.
func (*Adapter) HasPermissions(...radio.Permission) bool {
	return true
}

func (*Adapter) RequestPermissions(context.Context, ...radio.Permission) (bool, error) {
	return true, nil
}

func (a *Adapter) Power() radio.Power {
	v, err := a.getProp(a.adapterPath, adapterIface, "Powered")
	if err != nil {
		log.Debug().Err(err).Str("adapter", a.opts.Adapter).Msg("adapter not available")
		return radio.PowerAbsent
	}
	if on, ok := v.Value().(bool); ok && on {
		return radio.PowerOn
	}
	return radio.PowerOff
}

// RequestEnable powers the controller on directly; there is no user prompt
// on Linux.
func (a *Adapter) RequestEnable(ctx context.Context) error {
	obj := a.conn.Object(busName, a.adapterPath)
	call := obj.CallWithContext(ctx, propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true))
	if call.Err != nil {
		return mapError("power on adapter", call.Err)
	}
	return nil
}

func (a *Adapter) WatchPower(ctx context.Context) (<-chan radio.Power, error) {
	if err := a.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(a.adapterPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fmt.Errorf("watch adapter properties: %w", err)
	}
	if err := a.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath("/"),
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		return nil, fmt.Errorf("watch adapter removal: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	a.conn.Signal(signals)

	out := make(chan radio.Power, 4)
	go func() {
		defer close(out)
		defer a.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				p, changed := a.powerFromSignal(sig)
				if !changed {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *Adapter) powerFromSignal(sig *dbus.Signal) (radio.Power, bool) {
	switch sig.Name {
	case propsIface + ".PropertiesChanged":
		if sig.Path != a.adapterPath || len(sig.Body) < 2 {
			return 0, false
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != adapterIface {
			return 0, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return 0, false
		}
		v, ok := changed["Powered"]
		if !ok {
			return 0, false
		}
		if on, ok := v.Value().(bool); ok && on {
			return radio.PowerOn, true
		}
		return radio.PowerOff, true
	case objectManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 2 {
			return 0, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || path != a.adapterPath {
			return 0, false
		}
		ifaces, ok := sig.Body[1].([]string)
		if !ok {
			return 0, false
		}
		for _, i := range ifaces {
			if i == adapterIface {
				return radio.PowerAbsent, true
			}
		}
	}
	return 0, false
}

func (a *Adapter) StartScan(ctx context.Context, found func(radio.Device)) (radio.Scan, error) {
	if a.Power() != radio.PowerOn {
		return nil, radio.ErrNoAdapter
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath("/"),
			dbus.WithMatchInterface(objectManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchPathNamespace(a.adapterPath),
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
	}
	for _, m := range matches {
		if err := a.conn.AddMatchSignalContext(ctx, m...); err != nil {
			return nil, fmt.Errorf("subscribe to discovery signals: %w", err)
		}
	}
	signals := make(chan *dbus.Signal, 32)
	a.conn.Signal(signals)

	adapter := a.conn.Object(busName, a.adapterPath)
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("bredr")}
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		log.Debug().Err(err).Msg("failed to set discovery filter")
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		a.conn.RemoveSignal(signals)
		return nil, mapError("start discovery", err)
	}

	h := radio.NewScanHandle(func() error {
		err := adapter.Call(adapterIface+".StopDiscovery", 0).Err
		if err != nil && !isDBusError(err, "org.bluez.Error.Failed") {
			return mapError("stop discovery", err)
		}
		return nil
	})

	a.mu.Lock()
	prev := a.scan
	a.scan = h
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	go a.scanLoop(ctx, h, signals, found)
	return h, nil
}

func (a *Adapter) scanLoop(ctx context.Context, h *radio.ScanHandle, signals chan *dbus.Signal, found func(radio.Device)) {
	defer a.conn.RemoveSignal(signals)
	defer func() {
		a.mu.Lock()
		if a.scan == h {
			a.scan = nil
		}
		a.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return
		case <-h.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				h.Finish(radio.ErrNoAdapter)
				return
			}
			switch sig.Name {
			case objectManagerIface + ".InterfacesAdded":
				if d, ok := a.deviceFromAdded(sig); ok {
					found(d)
				}
			case propsIface + ".PropertiesChanged":
				if sig.Path != a.adapterPath {
					continue
				}
				if p, changed := a.powerFromSignal(sig); changed && p != radio.PowerOn {
					h.Finish(radio.ErrNoAdapter)
					return
				}
				if discoveringStopped(sig) {
					log.Debug().Msg("adapter stopped discovering")
					h.Finish(nil)
					return
				}
			}
		}
	}
}

func discoveringStopped(sig *dbus.Signal) bool {
	if len(sig.Body) < 2 {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Discovering"]
	if !ok {
		return false
	}
	on, ok := v.Value().(bool)
	return ok && !on
}

func (a *Adapter) deviceFromAdded(sig *dbus.Signal) (radio.Device, bool) {
	if len(sig.Body) < 2 {
		return radio.Device{}, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok || !strings.HasPrefix(string(path), string(a.adapterPath)+"/") {
		return radio.Device{}, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return radio.Device{}, false
	}
	props, ok := ifaces[deviceIface]
	if !ok {
		return radio.Device{}, false
	}
	return deviceFromProps(path, props), true
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) radio.Device {
	d := radio.Device{Address: macFromPath(path)}
	if v, ok := props["Address"]; ok {
		if s, ok := v.Value().(string); ok && s != "" {
			d.Address = s
		}
	}
	if v, ok := props["Name"]; ok {
		if s, ok := v.Value().(string); ok {
			d.Name = s
		}
	}
	return d
}

// CancelScan stops discovery even when another client on the bus started it.
func (a *Adapter) CancelScan() error {
	a.mu.Lock()
	h := a.scan
	a.scan = nil
	a.mu.Unlock()
	if h != nil {
		return h.Stop()
	}

	v, err := a.getProp(a.adapterPath, adapterIface, "Discovering")
	if err != nil {
		return nil //nolint:nilerr // no adapter means nothing is scanning
	}
	if on, ok := v.Value().(bool); !ok || !on {
		return nil
	}
	err = a.conn.Object(busName, a.adapterPath).Call(adapterIface+".StopDiscovery", 0).Err
	if err != nil && !isDBusError(err, "org.bluez.Error.Failed") {
		return mapError("stop discovery", err)
	}
	return nil
}

func (a *Adapter) BondedDevices() ([]radio.Device, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := a.conn.Object(busName, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, mapError("list managed objects", err)
	}

	var out []radio.Device
	prefix := string(a.adapterPath) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		paired, ok := props["Paired"]
		if !ok {
			continue
		}
		if p, ok := paired.Value().(bool); !ok || !p {
			continue
		}
		out = append(out, deviceFromProps(path, props))
	}
	return out, nil
}

func (a *Adapter) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := a.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	if err != nil {
		return v, fmt.Errorf("get %s.%s: %w", iface, prop, err)
	}
	return v, nil
}

// remoteDevice reads what BlueZ knows about a device object, falling back to
// the address encoded in its path.
func (a *Adapter) remoteDevice(path dbus.ObjectPath) radio.Device {
	d := radio.Device{Address: macFromPath(path)}
	if v, err := a.getProp(path, deviceIface, "Name"); err == nil {
		if s, ok := v.Value().(string); ok {
			d.Name = s
		}
	}
	return d
}

// deviceObjectPath converts AA:BB:CC:DD:EE:FF into the BlueZ object path
// under adapterPath.
func deviceObjectPath(adapterPath dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

// macFromPath extracts the address from a BlueZ device object path.
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}

var accessDeniedErrors = []string{
	"org.bluez.Error.NotPermitted",
	"org.bluez.Error.NotAuthorized",
	"org.freedesktop.DBus.Error.AccessDenied",
}

var noAdapterErrors = []string{
	"org.bluez.Error.NotReady",
	"org.freedesktop.DBus.Error.UnknownObject",
	"org.freedesktop.DBus.Error.UnknownMethod",
	"org.freedesktop.DBus.Error.ServiceUnknown",
}

// mapError tags a BlueZ error with the radio sentinel it corresponds to.
func mapError(op string, err error) error {
	for _, name := range accessDeniedErrors {
		if isDBusError(err, name) {
			return fmt.Errorf("%s: %w: %w", op, radio.ErrAccessDenied, err)
		}
	}
	for _, name := range noAdapterErrors {
		if isDBusError(err, name) {
			return fmt.Errorf("%s: %w: %w", op, radio.ErrNoAdapter, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDBusError(err error, name string) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == name
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name == name
	}
	return false
}
