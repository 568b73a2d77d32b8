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

// Package validation checks API request params with go-playground/validator,
// plus validators for peer addresses and chat ids.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrMissingParams = errors.New("missing params")
	ErrInvalidParams = errors.New("invalid params")
)

const maxChatIDLen = 128

var (
	btAddressRe = regexp.MustCompile(`^(?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	chatIDRe    = regexp.MustCompile(`^[^\s\x00-\x1f\\]+$`)
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("peeraddr", validatePeerAddress)
	_ = v.RegisterValidation("chatid", validateChatID)
	return &Validator{validate: v}
}

var DefaultValidator = NewValidator()

func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return NewError(verrs)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal decodes params into dest and validates it. Returns
// ErrMissingParams for empty params, ErrInvalidParams when they do not
// decode, or an *Error listing the failed fields.
func ValidateAndUnmarshal[T any](params json.RawMessage, dest *T) error {
	if len(params) == 0 || string(params) == "null" {
		return ErrMissingParams
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return ErrInvalidParams
	}
	return DefaultValidator.Validate(dest)
}

// validatePeerAddress accepts a Bluetooth address, a lan peer id or a
// host:port pair.
func validatePeerAddress(fl validator.FieldLevel) bool {
	val := strings.TrimSpace(fl.Field().String())
	if val == "" {
		return true
	}
	if btAddressRe.MatchString(val) {
		return true
	}
	if _, err := uuid.Parse(val); err == nil {
		return true
	}
	host, port, err := net.SplitHostPort(val)
	return err == nil && host != "" && port != ""
}

// validateChatID rejects ids that cannot travel inside a single frame.
func validateChatID(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return true
	}
	return len(val) <= maxChatIDLen && chatIDRe.MatchString(val)
}
