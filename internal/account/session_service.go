// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenValidity bundles the per-context expiry windows and the sudo recency
// window. Zero values fall back to the defaults.
type TokenValidity struct {
	Session    time.Duration
	Login      time.Duration
	Change     time.Duration
	SudoWindow time.Duration
}

// normalize fills zero fields with the default windows.
func (v TokenValidity) normalize() TokenValidity {
	if v.Session == 0 {
		v.Session = DefaultSessionValidity
	}
	if v.Login == 0 {
		v.Login = DefaultLoginValidity
	}
	if v.Change == 0 {
		v.Change = DefaultChangeValidity
	}
	if v.SudoWindow == 0 {
		v.SudoWindow = DefaultSudoWindow
	}
	return v
}

// Metrics records token lifecycle outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	TokenIssued(tokenContext string)
	TokenVerified(tokenContext, outcome string)
	RegistrationCompleted()
	AuthenticationFailed()
}

// nopMetrics discards all observations.
type nopMetrics struct{}

func (nopMetrics) TokenIssued(string)           {}
func (nopMetrics) TokenVerified(string, string) {}
func (nopMetrics) RegistrationCompleted()       {}
func (nopMetrics) AuthenticationFailed()        {}

// TokenService orchestrates issuance, verification, and consumption of
// session, login, and email-change tokens.
type TokenService struct {
	tokens   TokenRepository
	users    UserRepository
	tx       Transactor
	validity TokenValidity
	now      func() time.Time
	logger   *slog.Logger
	metrics  Metrics
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock overrides the time source. Tests use this for deterministic
// expiry checks.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *TokenService) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) TokenServiceOption {
	return func(s *TokenService) { s.metrics = m }
}

// NewTokenService creates a TokenService.
func NewTokenService(tokens TokenRepository, users UserRepository, tx Transactor, validity TokenValidity, opts ...TokenServiceOption) (*TokenService, error) {
	if tokens == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token repository is required")
	}
	if users == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("user repository is required")
	}
	if tx == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("transactor is required")
	}

	s := &TokenService{
		tokens:   tokens,
		users:    users,
		tx:       tx,
		validity: validity.normalize(),
		now:      time.Now,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueSessionToken mints a session token for the user and persists its
// hash. The token row copies the user's AuthenticatedAt, defaulting to now,
// so authentication recency travels with the session instead of mutating the
// user record. Returns the transport-encoded plaintext.
func (s *TokenService) IssueSessionToken(ctx context.Context, user *User) (string, error) {
	plaintext, hash, err := GenerateToken()
	if err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	now := s.now().UTC()
	authenticatedAt := now
	if user.AuthenticatedAt != nil {
		authenticatedAt = *user.AuthenticatedAt
	}

	token := &Token{
		ID:              s.newID(),
		UserID:          user.ID,
		Hash:            hash,
		Context:         ContextSession,
		AuthenticatedAt: &authenticatedAt,
		CreatedAt:       now,
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "persist token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.metrics.TokenIssued(ContextSession)
	s.logger.InfoContext(ctx, "session token issued", "user_id", user.ID.String())

	return EncodeToken(plaintext), nil
}

// VerifySessionToken resolves a transported session token to its user and
// issuance time. Decode failure, a missing hash, a wrong context, and expiry
// all collapse to the same ErrNotFound so callers receive no distinguishing
// signal. The returned user carries AuthenticatedAt from the token row.
func (s *TokenService) VerifySessionToken(ctx context.Context, encoded string) (*User, time.Time, error) {
	plaintext, err := DecodeToken(encoded)
	if err != nil {
		s.metrics.TokenVerified(ContextSession, "rejected")
		return nil, time.Time{}, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
	}

	issuedAfter := s.now().UTC().Add(-s.validity.Session)
	user, token, err := s.tokens.GetSessionUser(ctx, HashToken(plaintext), issuedAfter)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.TokenVerified(ContextSession, "rejected")
			return nil, time.Time{}, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
		}
		return nil, time.Time{}, oops.Code("SESSION_VERIFY_FAILED").
			With("operation", "get session user").
			Wrap(err)
	}

	s.metrics.TokenVerified(ContextSession, "accepted")
	return user, token.CreatedAt, nil
}

// DeleteSessionToken removes a session token by its transported form.
// Idempotent: an unknown or malformed token is not an error.
func (s *TokenService) DeleteSessionToken(ctx context.Context, encoded string) error {
	plaintext, err := DecodeToken(encoded)
	if err != nil {
		return nil
	}

	if err := s.tokens.Delete(ctx, HashToken(plaintext), ContextSession); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete token").
			Wrap(err)
	}
	return nil
}

// IssueEmailChangeToken mints a confirmation token for changing the user's
// email to newEmail. The context embeds the user's current email, so a
// confirmation attempted after the email changed by other means finds no
// matching row and aborts.
func (s *TokenService) IssueEmailChangeToken(ctx context.Context, user *User, newEmail string) (string, error) {
	plaintext, hash, err := GenerateToken()
	if err != nil {
		return "", oops.Code("EMAIL_CHANGE_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	sentTo := NormalizeEmail(newEmail)
	token := &Token{
		ID:        s.newID(),
		UserID:    user.ID,
		Hash:      hash,
		Context:   ChangeContext(user.Email),
		SentTo:    &sentTo,
		CreatedAt: s.now().UTC(),
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("EMAIL_CHANGE_ISSUE_FAILED").
			With("operation", "persist token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.metrics.TokenIssued(token.Context)
	s.logger.InfoContext(ctx, "email change token issued", "user_id", user.ID.String())

	return EncodeToken(plaintext), nil
}

// ConsumeEmailChangeToken confirms an email change inside one transaction:
// it resolves the token against the context derived from the user's email at
// verification time, applies the new address, and deletes every token under
// that context. Any precondition failure rolls everything back and returns
// ErrTransactionAborted; no partial update is observable.
func (s *TokenService) ConsumeEmailChangeToken(ctx context.Context, user *User, encoded string) (*User, error) {
	plaintext, err := DecodeToken(encoded)
	if err != nil {
		s.metrics.TokenVerified(ChangeContext(user.Email), "rejected")
		return nil, oops.Code("EMAIL_CHANGE_ABORTED").Wrap(ErrTransactionAborted)
	}

	tokenContext := ChangeContext(user.Email)
	issuedAfter := s.now().UTC().Add(-s.validity.Change)

	updated := *user
	txErr := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		token, err := s.tokens.GetByHashAndContext(ctx, HashToken(plaintext), tokenContext, issuedAfter)
		if err != nil {
			return err
		}
		if token.SentTo == nil || token.UserID != user.ID {
			return ErrNotFound
		}

		if err := s.users.UpdateEmail(ctx, user.ID, *token.SentTo); err != nil {
			return err
		}

		// The context delete doubles as the concurrency guard: a competing
		// confirmation blocks on the row locks and then deletes nothing,
		// which aborts it.
		deleted, err := s.tokens.DeleteByUserContext(ctx, user.ID, tokenContext)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrNotFound
		}

		updated.Email = *token.SentTo
		return nil
	})
	if txErr != nil {
		s.metrics.TokenVerified(tokenContext, "rejected")
		if errors.Is(txErr, ErrNotFound) || errors.Is(txErr, ErrEmailTaken) {
			return nil, oops.Code("EMAIL_CHANGE_ABORTED").Wrap(ErrTransactionAborted)
		}
		return nil, oops.Code("EMAIL_CHANGE_FAILED").
			With("operation", "consume email change token").
			With("user_id", user.ID.String()).
			Wrap(txErr)
	}

	s.metrics.TokenVerified(tokenContext, "accepted")
	s.logger.InfoContext(ctx, "email changed", "user_id", user.ID.String())

	return &updated, nil
}

// IssueLoginToken mints a short-lived magic-link token for the user.
func (s *TokenService) IssueLoginToken(ctx context.Context, user *User) (string, error) {
	plaintext, hash, err := GenerateToken()
	if err != nil {
		return "", oops.Code("LOGIN_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	token := &Token{
		ID:        s.newID(),
		UserID:    user.ID,
		Hash:      hash,
		Context:   ContextLogin,
		CreatedAt: s.now().UTC(),
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("LOGIN_ISSUE_FAILED").
			With("operation", "persist token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.metrics.TokenIssued(ContextLogin)
	s.logger.InfoContext(ctx, "login token issued", "user_id", user.ID.String())

	return EncodeToken(plaintext), nil
}

// VerifyLoginToken resolves a magic-link token to its user and deletes the
// row in the same transaction, making the token single-use. All failure
// modes collapse to ErrNotFound.
func (s *TokenService) VerifyLoginToken(ctx context.Context, encoded string) (*User, error) {
	plaintext, err := DecodeToken(encoded)
	if err != nil {
		s.metrics.TokenVerified(ContextLogin, "rejected")
		return nil, oops.Code("LOGIN_INVALID").Wrap(ErrNotFound)
	}

	hash := HashToken(plaintext)
	issuedAfter := s.now().UTC().Add(-s.validity.Login)

	var user *User
	txErr := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		token, err := s.tokens.GetByHashAndContext(ctx, hash, ContextLogin, issuedAfter)
		if err != nil {
			return err
		}

		// Delete-on-read: a concurrent verification of the same token
		// blocks here and then observes ErrNotFound.
		if err := s.tokens.Delete(ctx, hash, ContextLogin); err != nil {
			return err
		}

		user, err = s.users.GetByID(ctx, token.UserID)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, ErrNotFound) {
			s.metrics.TokenVerified(ContextLogin, "rejected")
			return nil, oops.Code("LOGIN_INVALID").Wrap(ErrNotFound)
		}
		return nil, oops.Code("LOGIN_VERIFY_FAILED").
			With("operation", "verify login token").
			Wrap(txErr)
	}

	s.metrics.TokenVerified(ContextLogin, "accepted")
	return user, nil
}

// RecentlyAuthenticated reports whether the user authenticated within the
// sudo window. Used to gate sensitive actions without re-prompting for a
// password too aggressively.
func (s *TokenService) RecentlyAuthenticated(user *User) bool {
	if user == nil || user.AuthenticatedAt == nil {
		return false
	}
	return user.AuthenticatedAt.After(s.now().Add(-s.validity.SudoWindow))
}

// newID returns a fresh entity ID seeded from the service clock.
func (s *TokenService) newID() ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy())
}
