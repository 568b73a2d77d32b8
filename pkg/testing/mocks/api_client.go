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

// Package mocks provides testify mocks of the client-facing interfaces.
package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/campusmarket/handshake-core/pkg/api/models"
	"github.com/stretchr/testify/mock"
)

// MockAPIClient is a mock implementation of client.APIClient for testing.
type MockAPIClient struct {
	mock.Mock
}

func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) Call(ctx context.Context, method, params string) (string, error) {
	args := m.Called(ctx, method, params)
	return args.String(0), args.Error(1)
}

func (m *MockAPIClient) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	notificationType string,
) (string, error) {
	args := m.Called(ctx, timeout, notificationType)
	return args.String(0), args.Error(1)
}

// SetupConfirmResponse expects a purchase.confirm for chatID and answers with
// resp.
func (m *MockAPIClient) SetupConfirmResponse(chatID string, resp models.PurchaseResponse) {
	params, _ := json.Marshal(models.ConfirmParams{ChatID: chatID})
	data, _ := json.Marshal(resp)
	m.On("Call", mock.Anything, models.MethodPurchaseConfirm, string(params)).Return(string(data), nil)
}

// SetupCompletedNotification answers a wait for purchase.completed with resp.
func (m *MockAPIClient) SetupCompletedNotification(resp models.PurchaseResponse) {
	data, _ := json.Marshal(resp)
	m.On("WaitNotification", mock.Anything, mock.Anything, models.NotificationPurchaseCompleted).
		Return(string(data), nil)
}
