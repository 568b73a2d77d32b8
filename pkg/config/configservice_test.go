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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestAdvertiseEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		enabled *bool
		name    string
		want    bool
	}{
		{name: "nil returns true (default enabled)", enabled: nil, want: true},
		{name: "true returns true", enabled: boolPtr(true), want: true},
		{name: "false returns false", enabled: boolPtr(false), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inst := &Instance{
				vals: Values{
					Service: Service{
						Advertise: Advertise{Enabled: tt.enabled},
					},
				},
			}
			assert.Equal(t, tt.want, inst.AdvertiseEnabled())
		})
	}
}

func TestIncludeBondedAndAutoAccept(t *testing.T) {
	t.Parallel()

	inst := &Instance{}
	assert.True(t, inst.IncludeBonded())
	assert.True(t, inst.AutoAccept())

	inst.vals.Discovery.IncludeBonded = boolPtr(false)
	inst.SetAutoAccept(false)
	assert.False(t, inst.IncludeBonded())
	assert.False(t, inst.AutoAccept())
}

func TestGetMQTTPublishers(t *testing.T) {
	t.Parallel()

	pubs := []MQTTPublisher{{Broker: "tcp://localhost:1883", Topic: "handshake/events"}}
	inst := &Instance{vals: Values{Service: Service{Publishers: Publishers{MQTT: pubs}}}}
	assert.Equal(t, pubs, inst.GetMQTTPublishers())
}
