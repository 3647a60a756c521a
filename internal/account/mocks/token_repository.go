// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/gatehouse/gatehouse/internal/account"
)

// MockTokenRepository is a mock implementation of account.TokenRepository.
type MockTokenRepository struct {
	mock.Mock
}

// NewMockTokenRepository creates a MockTokenRepository that asserts its
// expectations at test cleanup.
func NewMockTokenRepository(t *testing.T) *MockTokenRepository {
	t.Helper()
	m := &MockTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTokenRepository) Create(ctx context.Context, token *account.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByHashAndContext(ctx context.Context, hash, tokenContext string, issuedAfter time.Time) (*account.Token, error) {
	args := m.Called(ctx, hash, tokenContext, issuedAfter)
	if tok := args.Get(0); tok != nil {
		return tok.(*account.Token), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenRepository) GetSessionUser(ctx context.Context, hash string, issuedAfter time.Time) (*account.User, *account.Token, error) {
	args := m.Called(ctx, hash, issuedAfter)
	var (
		user  *account.User
		token *account.Token
	)
	if u := args.Get(0); u != nil {
		user = u.(*account.User)
	}
	if tok := args.Get(1); tok != nil {
		token = tok.(*account.Token)
	}
	return user, token, args.Error(2)
}

func (m *MockTokenRepository) DeleteAllForUser(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	args := m.Called(ctx, userID)
	if ids := args.Get(0); ids != nil {
		return ids.([]ulid.ULID), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenRepository) Delete(ctx context.Context, hash, tokenContext string) error {
	args := m.Called(ctx, hash, tokenContext)
	return args.Error(0)
}

func (m *MockTokenRepository) DeleteByUserContext(ctx context.Context, userID ulid.ULID, tokenContext string) (int64, error) {
	args := m.Called(ctx, userID, tokenContext)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenRepository) DeleteExpired(ctx context.Context, sessionBefore, loginBefore, changeBefore time.Time) (int64, error) {
	args := m.Called(ctx, sessionBefore, loginBefore, changeBefore)
	return args.Get(0).(int64), args.Error(1)
}

var _ account.TokenRepository = (*MockTokenRepository)(nil)
