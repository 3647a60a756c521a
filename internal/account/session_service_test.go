// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/account"
	"github.com/gatehouse/gatehouse/internal/account/mocks"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// fixedClock returns a deterministic time source for expiry math.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTokenService(t *testing.T, tokens account.TokenRepository, users account.UserRepository, tx account.Transactor) *account.TokenService {
	t.Helper()
	svc, err := account.NewTokenService(tokens, users, tx, account.TokenValidity{}, account.WithClock(fixedClock(testNow)))
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		tokens      account.TokenRepository
		users       account.UserRepository
		tx          account.Transactor
		expectError string
	}{
		{
			name:        "nil token repository",
			tokens:      nil,
			users:       mocks.NewMockUserRepository(t),
			tx:          mocks.PassthroughTransactor{},
			expectError: "token repository is required",
		},
		{
			name:        "nil user repository",
			tokens:      mocks.NewMockTokenRepository(t),
			users:       nil,
			tx:          mocks.PassthroughTransactor{},
			expectError: "user repository is required",
		},
		{
			name:        "nil transactor",
			tokens:      mocks.NewMockTokenRepository(t),
			users:       mocks.NewMockUserRepository(t),
			tx:          nil,
			expectError: "transactor is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := account.NewTokenService(tt.tokens, tt.users, tt.tx, account.TokenValidity{})
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestTokenService_IssueSessionToken(t *testing.T) {
	ctx := context.Background()

	t.Run("persists hash and returns decodable plaintext", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		user := &account.User{ID: ulid.Make(), Email: "user@example.com"}

		var stored *account.Token
		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*account.Token) }).
			Return(nil)

		encoded, err := svc.IssueSessionToken(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, stored)

		assert.Equal(t, account.ContextSession, stored.Context)
		assert.Equal(t, user.ID, stored.UserID)
		assert.Equal(t, testNow, stored.CreatedAt)

		// The stored row holds the hash of the plaintext, never the plaintext.
		plaintext, err := account.DecodeToken(encoded)
		require.NoError(t, err)
		assert.Equal(t, account.HashToken(plaintext), stored.Hash)
		assert.NotContains(t, encoded, stored.Hash)
	})

	t.Run("copies AuthenticatedAt from the user", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		authAt := testNow.Add(-5 * time.Minute)
		user := &account.User{ID: ulid.Make(), AuthenticatedAt: &authAt}

		var stored *account.Token
		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*account.Token) }).
			Return(nil)

		_, err := svc.IssueSessionToken(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, stored.AuthenticatedAt)
		assert.Equal(t, authAt, *stored.AuthenticatedAt)
	})

	t.Run("defaults AuthenticatedAt to now", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		var stored *account.Token
		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*account.Token) }).
			Return(nil)

		_, err := svc.IssueSessionToken(ctx, &account.User{ID: ulid.Make()})
		require.NoError(t, err)
		require.NotNil(t, stored.AuthenticatedAt)
		assert.Equal(t, testNow, *stored.AuthenticatedAt)
	})

	t.Run("wraps persistence failure", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).Return(errors.New("connection reset"))

		_, err := svc.IssueSessionToken(ctx, &account.User{ID: ulid.Make()})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_ISSUE_FAILED")
	})
}

func TestTokenService_VerifySessionToken(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves a live token to its user", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)

		authAt := testNow.Add(-time.Hour)
		user := &account.User{ID: ulid.Make(), Email: "user@example.com", AuthenticatedAt: &authAt}
		row := &account.Token{UserID: user.ID, Hash: hash, Context: account.ContextSession, CreatedAt: testNow.Add(-2 * time.Hour)}

		issuedAfter := testNow.Add(-account.DefaultSessionValidity)
		tokens.On("GetSessionUser", ctx, hash, issuedAfter).Return(user, row, nil)

		got, issuedAt, err := svc.VerifySessionToken(ctx, account.EncodeToken(plaintext))
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, row.CreatedAt, issuedAt)
	})

	t.Run("malformed token reports not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		_, _, err := svc.VerifySessionToken(ctx, "!!not-a-token!!")
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("expired or unknown token reports not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, _, err := account.GenerateToken()
		require.NoError(t, err)

		tokens.On("GetSessionUser", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
			Return(nil, nil, account.ErrNotFound)

		_, _, err = svc.VerifySessionToken(ctx, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID")
	})

	t.Run("storage failure is not masked as not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, _, err := account.GenerateToken()
		require.NoError(t, err)

		tokens.On("GetSessionUser", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
			Return(nil, nil, errors.New("connection reset"))

		_, _, err = svc.VerifySessionToken(ctx, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.NotErrorIs(t, err, account.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_VERIFY_FAILED")
	})
}

func TestTokenService_DeleteSessionToken(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes by hash", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)

		tokens.On("Delete", ctx, hash, account.ContextSession).Return(nil)

		require.NoError(t, svc.DeleteSessionToken(ctx, account.EncodeToken(plaintext)))
	})

	t.Run("unknown token is not an error", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, _, err := account.GenerateToken()
		require.NoError(t, err)

		tokens.On("Delete", ctx, mock.AnythingOfType("string"), account.ContextSession).Return(account.ErrNotFound)

		require.NoError(t, svc.DeleteSessionToken(ctx, account.EncodeToken(plaintext)))
	})

	t.Run("malformed token is not an error and touches nothing", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		require.NoError(t, svc.DeleteSessionToken(ctx, "@@@"))
		tokens.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, _, err := account.GenerateToken()
		require.NoError(t, err)

		tokens.On("Delete", ctx, mock.AnythingOfType("string"), account.ContextSession).Return(errors.New("connection reset"))

		err = svc.DeleteSessionToken(ctx, account.EncodeToken(plaintext))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_DELETE_FAILED")
	})
}

func TestTokenService_IssueEmailChangeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("scopes the token to the current email", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		user := &account.User{ID: ulid.Make(), Email: "old@example.com"}

		var stored *account.Token
		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*account.Token) }).
			Return(nil)

		encoded, err := svc.IssueEmailChangeToken(ctx, user, "New@Example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, encoded)

		require.NotNil(t, stored)
		assert.Equal(t, "change:old@example.com", stored.Context)
		require.NotNil(t, stored.SentTo)
		assert.Equal(t, "new@example.com", *stored.SentTo)
	})
}

func TestTokenService_ConsumeEmailChangeToken(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*mocks.MockTokenRepository, *mocks.MockUserRepository, *account.TokenService, *account.User, []byte, string) {
		t.Helper()
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		user := &account.User{ID: ulid.Make(), Email: "old@example.com"}
		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)
		return tokens, users, svc, user, plaintext, hash
	}

	issuedAfter := testNow.Add(-account.DefaultChangeValidity)

	t.Run("applies the change and revokes the context", func(t *testing.T) {
		tokens, users, svc, user, plaintext, hash := setup(t)

		sentTo := "new@example.com"
		row := &account.Token{UserID: user.ID, Hash: hash, Context: "change:old@example.com", SentTo: &sentTo}

		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).Return(row, nil)
		users.On("UpdateEmail", ctx, user.ID, "new@example.com").Return(nil)
		tokens.On("DeleteByUserContext", ctx, user.ID, "change:old@example.com").Return(int64(1), nil)

		updated, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", updated.Email)
		// The input user is not mutated; the caller decides what to do with it.
		assert.Equal(t, "old@example.com", user.Email)
	})

	t.Run("unknown token aborts", func(t *testing.T) {
		tokens, _, svc, user, plaintext, hash := setup(t)

		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).
			Return(nil, account.ErrNotFound)

		_, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrTransactionAborted)
	})

	t.Run("malformed token aborts", func(t *testing.T) {
		_, _, svc, user, _, _ := setup(t)

		_, err := svc.ConsumeEmailChangeToken(ctx, user, "###")
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrTransactionAborted)
	})

	t.Run("token belonging to another user aborts", func(t *testing.T) {
		tokens, _, svc, user, plaintext, hash := setup(t)

		sentTo := "new@example.com"
		row := &account.Token{UserID: ulid.Make(), Hash: hash, Context: "change:old@example.com", SentTo: &sentTo}
		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).Return(row, nil)

		_, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrTransactionAborted)
	})

	t.Run("new email taken in the meantime aborts", func(t *testing.T) {
		tokens, users, svc, user, plaintext, hash := setup(t)

		sentTo := "new@example.com"
		row := &account.Token{UserID: user.ID, Hash: hash, Context: "change:old@example.com", SentTo: &sentTo}

		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).Return(row, nil)
		users.On("UpdateEmail", ctx, user.ID, "new@example.com").Return(account.ErrEmailTaken)

		_, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrTransactionAborted)
	})

	t.Run("losing the double-confirmation race aborts", func(t *testing.T) {
		tokens, users, svc, user, plaintext, hash := setup(t)

		sentTo := "new@example.com"
		row := &account.Token{UserID: user.ID, Hash: hash, Context: "change:old@example.com", SentTo: &sentTo}

		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).Return(row, nil)
		users.On("UpdateEmail", ctx, user.ID, "new@example.com").Return(nil)
		// The winning transaction already deleted the context's tokens.
		tokens.On("DeleteByUserContext", ctx, user.ID, "change:old@example.com").Return(int64(0), nil)

		_, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrTransactionAborted)
	})

	t.Run("storage failure is not reported as an abort", func(t *testing.T) {
		tokens, _, svc, user, plaintext, hash := setup(t)

		tokens.On("GetByHashAndContext", ctx, hash, "change:old@example.com", issuedAfter).
			Return(nil, errors.New("connection reset"))

		_, err := svc.ConsumeEmailChangeToken(ctx, user, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.NotErrorIs(t, err, account.ErrTransactionAborted)
		errutil.AssertErrorCode(t, err, "EMAIL_CHANGE_FAILED")
	})
}

func TestTokenService_LoginTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("issue persists a login-context hash", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		user := &account.User{ID: ulid.Make(), Email: "user@example.com"}

		var stored *account.Token
		tokens.On("Create", ctx, mock.AnythingOfType("*account.Token")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*account.Token) }).
			Return(nil)

		_, err := svc.IssueLoginToken(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, account.ContextLogin, stored.Context)
		assert.Nil(t, stored.SentTo)
	})

	t.Run("verify consumes the token", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)

		user := &account.User{ID: ulid.Make(), Email: "user@example.com"}
		row := &account.Token{UserID: user.ID, Hash: hash, Context: account.ContextLogin}

		issuedAfter := testNow.Add(-account.DefaultLoginValidity)
		tokens.On("GetByHashAndContext", ctx, hash, account.ContextLogin, issuedAfter).Return(row, nil)
		tokens.On("Delete", ctx, hash, account.ContextLogin).Return(nil)
		users.On("GetByID", ctx, user.ID).Return(user, nil)

		got, err := svc.VerifyLoginToken(ctx, account.EncodeToken(plaintext))
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("second use reports not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)

		issuedAfter := testNow.Add(-account.DefaultLoginValidity)
		tokens.On("GetByHashAndContext", ctx, hash, account.ContextLogin, issuedAfter).
			Return(nil, account.ErrNotFound)

		_, err = svc.VerifyLoginToken(ctx, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("delete race inside the transaction reports not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		plaintext, hash, err := account.GenerateToken()
		require.NoError(t, err)

		row := &account.Token{UserID: ulid.Make(), Hash: hash, Context: account.ContextLogin}
		issuedAfter := testNow.Add(-account.DefaultLoginValidity)
		tokens.On("GetByHashAndContext", ctx, hash, account.ContextLogin, issuedAfter).Return(row, nil)
		tokens.On("Delete", ctx, hash, account.ContextLogin).Return(account.ErrNotFound)

		_, err = svc.VerifyLoginToken(ctx, account.EncodeToken(plaintext))
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("malformed token reports not found", func(t *testing.T) {
		tokens := mocks.NewMockTokenRepository(t)
		users := mocks.NewMockUserRepository(t)
		svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

		_, err := svc.VerifyLoginToken(ctx, "***")
		require.Error(t, err)
		assert.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestTokenService_RecentlyAuthenticated(t *testing.T) {
	tokens := mocks.NewMockTokenRepository(t)
	users := mocks.NewMockUserRepository(t)
	svc := newTokenService(t, tokens, users, mocks.PassthroughTransactor{})

	t.Run("true within the sudo window", func(t *testing.T) {
		at := testNow.Add(-10 * time.Minute)
		assert.True(t, svc.RecentlyAuthenticated(&account.User{AuthenticatedAt: &at}))
	})

	t.Run("false outside the sudo window", func(t *testing.T) {
		at := testNow.Add(-25 * time.Minute)
		assert.False(t, svc.RecentlyAuthenticated(&account.User{AuthenticatedAt: &at}))
	})

	t.Run("false with no authentication timestamp", func(t *testing.T) {
		assert.False(t, svc.RecentlyAuthenticated(&account.User{}))
	})

	t.Run("false for nil user", func(t *testing.T) {
		assert.False(t, svc.RecentlyAuthenticated(nil))
	})
}
