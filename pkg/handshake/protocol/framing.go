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

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

type Framing string

const (
	// FramingNewline terminates every message with '\n'. Backslashes and
	// line breaks inside a message are escaped as "\\", "\n" and "\r". A
	// CRLF terminator from the peer is accepted.
	FramingNewline Framing = "newline"
	// FramingRaw sends messages as-is and treats every read as one message.
	FramingRaw Framing = "raw"
)

// MaxFrameSize bounds a newline frame that has not been terminated yet.
const MaxFrameSize = 64 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(s))) {
	case FramingNewline, "":
		return FramingNewline, nil
	case FramingRaw:
		return FramingRaw, nil
	default:
		return "", fmt.Errorf("unknown framing: %q", s)
	}
}

// Encode returns the bytes to write for msg.
func Encode(f Framing, msg string) []byte {
	if f == FramingRaw {
		return []byte(msg)
	}
	var b bytes.Buffer
	b.Grow(len(msg) + 1)
	for i := 0; i < len(msg); i++ {
		switch c := msg[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// Decoder reassembles messages from stream chunks. Not safe for concurrent
// use; a read loop owns one.
type Decoder struct {
	framing Framing
	pending []byte
}

func NewDecoder(f Framing) *Decoder {
	return &Decoder{framing: f}
}

// Feed consumes one chunk and returns every message it completed. Empty
// newline frames are skipped.
func (d *Decoder) Feed(chunk []byte) ([]string, error) {
	if d.framing == FramingRaw {
		if len(chunk) == 0 {
			return nil, nil
		}
		return []string{string(chunk)}, nil
	}

	d.pending = append(d.pending, chunk...)
	var out []string
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		frame := bytes.TrimSuffix(d.pending[:i], []byte{'\r'})
		if len(frame) > 0 {
			out = append(out, unescape(frame))
		}
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) > MaxFrameSize {
		d.pending = nil
		return out, ErrFrameTooLarge
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out, nil
}

// Buffered returns the number of bytes held for an unterminated frame.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

func unescape(frame []byte) string {
	if bytes.IndexByte(frame, '\\') < 0 {
		return string(frame)
	}
	var b strings.Builder
	b.Grow(len(frame))
	for i := 0; i < len(frame); i++ {
		c := frame[i]
		if c != '\\' || i == len(frame)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch frame[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			// unknown escape, keep it verbatim
			b.WriteByte('\\')
			b.WriteByte(frame[i])
		}
	}
	return b.String()
}
