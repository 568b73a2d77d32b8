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

// Package fixtures holds the canonical peers and identifiers used across
// handshake tests.
package fixtures

import (
	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/google/uuid"
)

const (
	SellerAddress = "AA:AA:AA:AA:AA:01"
	SellerName    = "seller"
	BuyerAddress  = "AA:AA:AA:AA:AA:02"
	BuyerName     = "buyer"
	ChatID        = "chat-42"
)

// ServiceRecord is the default marketplace service both test peers agree on.
func ServiceRecord() radio.ServiceRecord {
	return radio.ServiceRecord{
		Name: config.DefaultServiceName,
		ID:   uuid.MustParse(config.DefaultServiceUUID),
	}
}

// Seller returns the seller as seen by a scan.
func Seller() radio.Device {
	return radio.Device{Address: SellerAddress, Name: SellerName}
}

// Buyer returns the buyer as seen by a scan.
func Buyer() radio.Device {
	return radio.Device{Address: BuyerAddress, Name: BuyerName}
}
