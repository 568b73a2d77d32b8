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

// Package protocol is the purchase handshake wire format: text messages with
// three recognised prefixes, carried in newline-delimited frames (or, for
// legacy peers, one message per read).
package protocol

import (
	"strings"
)

const (
	ConfirmationPrefix = "PURCHASE_CONFIRMATION"
	Accepted           = "PURCHASE_ACCEPTED"
	Rejected           = "PURCHASE_REJECTED"
)

type Kind int

const (
	KindChat Kind = iota
	KindConfirmation
	KindAccepted
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindConfirmation:
		return "confirmation"
	case KindAccepted:
		return "accepted"
	case KindRejected:
		return "rejected"
	default:
		return "chat"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Message is a classified inbound or outbound text.
type Message struct {
	Text   string `json:"text"`
	ChatID string `json:"chatId,omitempty"`
	Kind   Kind   `json:"kind"`
}

// Confirmation builds the message that opens a handshake for chatID.
func Confirmation(chatID string) string {
	return ConfirmationPrefix + ":" + chatID
}

// Parse classifies text by prefix. Anything unrecognised is a chat message.
func Parse(text string) Message {
	msg := Message{Text: text}
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, ConfirmationPrefix):
		msg.Kind = KindConfirmation
		rest := strings.TrimPrefix(trimmed, ConfirmationPrefix)
		msg.ChatID = strings.TrimPrefix(rest, ":")
	case strings.HasPrefix(trimmed, Accepted):
		msg.Kind = KindAccepted
	case strings.HasPrefix(trimmed, Rejected):
		msg.Kind = KindRejected
	default:
		msg.Kind = KindChat
	}
	return msg
}
