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

// Package gate checks radio permissions before every privileged call.
// Permissions can be revoked between calls, so nothing is cached.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/rs/zerolog/log"
)

// Permission groups per operation.
var (
	Discovery = []radio.Permission{radio.PermissionScan}
	Connect   = []radio.Permission{radio.PermissionConnect}
	Listen    = []radio.Permission{radio.PermissionConnect, radio.PermissionAdvertise}
	All       = []radio.Permission{radio.PermissionScan, radio.PermissionConnect, radio.PermissionAdvertise}
)

type Gate struct {
	adapter radio.Adapter
}

func New(adapter radio.Adapter) *Gate {
	return &Gate{adapter: adapter}
}

// HasRequiredPermissions reports whether perms are granted, or every group
// when none are given.
func (g *Gate) HasRequiredPermissions(perms ...radio.Permission) bool {
	if len(perms) == 0 {
		perms = All
	}
	return g.adapter.HasPermissions(perms...)
}

// RequestPermissions asks the platform for every permission group. The
// prompt may be shown to the user; the result arrives once.
func (g *Gate) RequestPermissions(ctx context.Context) (bool, error) {
	granted, err := g.adapter.RequestPermissions(ctx, All...)
	if err != nil {
		return false, fmt.Errorf("request permissions: %w", err)
	}
	log.Info().Bool("granted", granted).Msg("permission request finished")
	return granted, nil
}

// Check returns a PermissionDenied error for op when perms are missing.
func (g *Gate) Check(op string, perms ...radio.Permission) error {
	if g.HasRequiredPermissions(perms...) {
		return nil
	}
	log.Warn().Str("op", op).Msg("missing radio permissions")
	return models.NewError(models.ErrPermissionDenied, op, nil)
}

// Wrap converts a radio error from op into the handshake taxonomy. OS
// refusals become PermissionDenied, a missing radio AdapterUnavailable, and
// anything else the fallback kind.
func Wrap(op string, fallback, err error) error {
	var he *models.Error
	if errors.As(err, &he) {
		return err
	}
	switch {
	case errors.Is(err, radio.ErrAccessDenied):
		return models.NewError(models.ErrPermissionDenied, op, err)
	case errors.Is(err, radio.ErrNoAdapter):
		return models.NewError(models.ErrAdapterUnavailable, op, err)
	default:
		return models.NewError(fallback, op, err)
	}
}
