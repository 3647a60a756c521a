// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/gatehouse/gatehouse/internal/account"
)

// MockNotificationSink is a mock implementation of account.NotificationSink.
type MockNotificationSink struct {
	mock.Mock
}

// NewMockNotificationSink creates a MockNotificationSink that asserts its
// expectations at test cleanup.
func NewMockNotificationSink(t *testing.T) *MockNotificationSink {
	t.Helper()
	m := &MockNotificationSink{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNotificationSink) Send(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

var _ account.NotificationSink = (*MockNotificationSink)(nil)
