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

// Package permissions maps radio permission groups to the platform permission
// names that must be granted. The mapping depends only on the platform API
// level, so it is re-resolved before every privileged call.
package permissions

import (
	"github.com/campusmarket/handshake-core/pkg/radio"
)

// APILevelSplit is the first API level with the split
// BLUETOOTH_SCAN/BLUETOOTH_CONNECT/BLUETOOTH_ADVERTISE permissions.
const APILevelSplit = 31

const (
	Bluetooth          = "android.permission.BLUETOOTH"
	BluetoothAdmin     = "android.permission.BLUETOOTH_ADMIN"
	BluetoothScan      = "android.permission.BLUETOOTH_SCAN"
	BluetoothConnect   = "android.permission.BLUETOOTH_CONNECT"
	BluetoothAdvertise = "android.permission.BLUETOOTH_ADVERTISE"
	AccessFineLocation = "android.permission.ACCESS_FINE_LOCATION"
)

func namesFor(apiLevel int, perm radio.Permission) []string {
	if apiLevel >= APILevelSplit {
		switch perm {
		case radio.PermissionScan:
			return []string{BluetoothScan}
		case radio.PermissionConnect:
			return []string{BluetoothConnect}
		case radio.PermissionAdvertise:
			return []string{BluetoothAdvertise}
		}
		return nil
	}

	// legacy devices need location to see scan results
	switch perm {
	case radio.PermissionScan:
		return []string{Bluetooth, BluetoothAdmin, AccessFineLocation}
	case radio.PermissionConnect:
		return []string{Bluetooth}
	case radio.PermissionAdvertise:
		return []string{Bluetooth, BluetoothAdmin}
	}
	return nil
}

// Required returns the deduplicated platform permission names needed for
// perms at apiLevel, in a stable order.
func Required(apiLevel int, perms ...radio.Permission) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range perms {
		for _, n := range namesFor(apiLevel, p) {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}

// Grants is a set of granted platform permission names.
type Grants map[string]bool

// Satisfies reports whether every name Required for perms is granted.
func (g Grants) Satisfies(apiLevel int, perms ...radio.Permission) bool {
	for _, n := range Required(apiLevel, perms...) {
		if !g[n] {
			return false
		}
	}
	return true
}

// Missing returns the required names that are not granted.
func (g Grants) Missing(apiLevel int, perms ...radio.Permission) []string {
	var missing []string
	for _, n := range Required(apiLevel, perms...) {
		if !g[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// All returns grants for every permission any API level can require.
func All() Grants {
	return Grants{
		Bluetooth:          true,
		BluetoothAdmin:     true,
		BluetoothScan:      true,
		BluetoothConnect:   true,
		BluetoothAdvertise: true,
		AccessFineLocation: true,
	}
}
