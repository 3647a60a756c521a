// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/gatehouse/gatehouse/internal/account"
)

// MockTransactor is a mock implementation of account.Transactor.
type MockTransactor struct {
	mock.Mock
}

// NewMockTransactor creates a MockTransactor that asserts its expectations at
// test cleanup.
func NewMockTransactor(t *testing.T) *MockTransactor {
	t.Helper()
	m := &MockTransactor{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// PassthroughTransactor runs the closure directly with no real transaction.
// Useful in service tests where repository mocks stand in for the database.
type PassthroughTransactor struct{}

func (PassthroughTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	_ account.Transactor = (*MockTransactor)(nil)
	_ account.Transactor = PassthroughTransactor{}
)
