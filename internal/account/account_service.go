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

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service provides account lifecycle operations: registration, credential
// verification, and password/email rotation.
type Service struct {
	users    UserRepository
	tokens   TokenRepository
	tx       Transactor
	hasher   PasswordHasher
	sessions *TokenService
	notifier *Notifier
	now      func() time.Time
	logger   *slog.Logger
	metrics  Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger sets the structured logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceMetrics sets the metrics recorder.
func WithServiceMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an account Service. The notifier may be nil when no
// delivery flows are needed (e.g. in lower-level tests); RequestEmailChange
// and RequestLoginLink then fail with NOTIFIER_NOT_CONFIGURED before any
// token is issued.
func NewService(users UserRepository, tokens TokenRepository, tx Transactor, hasher PasswordHasher, sessions *TokenService, notifier *Notifier, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("token repository is required")
	}
	if tx == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("transactor is required")
	}
	if hasher == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("token service is required")
	}

	s := &Service{
		users:    users,
		tokens:   tokens,
		tx:       tx,
		hasher:   hasher,
		sessions: sessions,
		notifier: notifier,
		now:      time.Now,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a new account. Every validation rule is evaluated before
// returning, so the caller receives the complete set of problems at once.
// Email uniqueness is checked both pre-flight and through the storage-level
// unique constraint; a race that slips past the pre-flight check surfaces as
// the same ValidationErrors instead of a raw storage error.
func (s *Service) Register(ctx context.Context, email, password, passwordConfirmation string) (*User, error) {
	email = NormalizeEmail(email)

	errs := ValidationErrors{}
	validateEmail(errs, email)
	validatePassword(errs, password, passwordConfirmation)

	if len(errs["email"]) == 0 {
		taken, err := s.users.EmailExists(ctx, email)
		if err != nil {
			return nil, oops.Code("REGISTER_FAILED").
				With("operation", "check email uniqueness").
				Wrap(err)
		}
		if taken {
			errs.Add("email", "has already been taken")
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	// The plaintext password is not retained past this point.

	now := s.now().UTC()
	user := &User{
		ID:             s.newID(),
		Email:          email,
		HashedPassword: hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Constraint violation under race: same shape as the
			// pre-flight failure.
			errs.Add("email", "has already been taken")
			return nil, errs
		}
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "persist user").
			Wrap(err)
	}

	s.metrics.RegistrationCompleted()
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())

	return user, nil
}

// Authenticate verifies an email/password pair. The missing-user and
// wrong-password cases are indistinguishable both in the returned error and
// in response timing: when no account (or no stored hash) exists, a dummy
// hash is still verified so account presence cannot be probed with a
// stopwatch. On success the returned user carries a fresh AuthenticatedAt.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else if user.HashedPassword != "" {
		targetHash = user.HashedPassword
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			s.metrics.AuthenticationFailed()
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		s.metrics.AuthenticationFailed()
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrNotFound)
	}

	// Transparently re-hash when cost parameters have been raised.
	if s.hasher.NeedsUpgrade(user.HashedPassword) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, newHash); err == nil {
				user.HashedPassword = newHash
			}
		}
	}

	now := s.now().UTC()
	user.AuthenticatedAt = &now

	return user, nil
}

// UpdatePassword rotates the user's password after re-validating the
// password rules. The hash update and the deletion of every token the user
// holds commit in one transaction: no reader can observe the new hash with
// old sessions still valid, or the reverse. Returns the IDs of the tokens
// that were invalidated.
func (s *Service) UpdatePassword(ctx context.Context, user *User, newPassword, passwordConfirmation string) (*User, []ulid.ULID, error) {
	errs := ValidationErrors{}
	validatePassword(errs, newPassword, passwordConfirmation)
	if len(errs) > 0 {
		return nil, nil, errs
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, nil, oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	var invalidated []ulid.ULID
	txErr := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
			return err
		}
		invalidated, err = s.tokens.DeleteAllForUser(ctx, user.ID)
		return err
	})
	if txErr != nil {
		return nil, nil, oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "update password and revoke tokens").
			With("user_id", user.ID.String()).
			Wrap(txErr)
	}

	updated := *user
	updated.HashedPassword = hashed
	updated.UpdatedAt = s.now().UTC()

	s.logger.InfoContext(ctx, "password updated, sessions revoked",
		"user_id", user.ID.String(),
		"tokens_revoked", len(invalidated))

	return &updated, invalidated, nil
}

// UpdateEmail applies a previously requested email change by consuming its
// confirmation token. Thin wrapper over the token service's transactional
// consume operation.
func (s *Service) UpdateEmail(ctx context.Context, user *User, encodedToken string) (*User, error) {
	return s.sessions.ConsumeEmailChangeToken(ctx, user, encodedToken)
}

// RequestEmailChange validates the prospective address, mints an
// email-change token, and delivers confirmation instructions to the new
// address. The stored email does not change until the token is consumed.
func (s *Service) RequestEmailChange(ctx context.Context, user *User, newEmail string, buildURL URLBuilder) error {
	if s.notifier == nil {
		return oops.Code("NOTIFIER_NOT_CONFIGURED").
			Errorf("no notifier configured for delivery flows")
	}
	newEmail = NormalizeEmail(newEmail)

	errs := ValidationErrors{}
	validateEmail(errs, newEmail)
	if len(errs) == 0 {
		if newEmail == NormalizeEmail(user.Email) {
			errs.Add("email", "did not change")
		} else {
			taken, err := s.users.EmailExists(ctx, newEmail)
			if err != nil {
				return oops.Code("EMAIL_CHANGE_REQUEST_FAILED").
					With("operation", "check email uniqueness").
					Wrap(err)
			}
			if taken {
				errs.Add("email", "has already been taken")
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}

	token, err := s.sessions.IssueEmailChangeToken(ctx, user, newEmail)
	if err != nil {
		return oops.Code("EMAIL_CHANGE_REQUEST_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	return s.notifier.DeliverEmailChangeInstructions(ctx, newEmail, buildURL(token))
}

// RequestLoginLink delivers a magic-link login token to the address if an
// account holds it. When no account matches, it returns nil without sending
// anything, so the response cannot be used to enumerate accounts.
func (s *Service) RequestLoginLink(ctx context.Context, email string, buildURL URLBuilder) error {
	if s.notifier == nil {
		return oops.Code("NOTIFIER_NOT_CONFIGURED").
			Errorf("no notifier configured for delivery flows")
	}
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("LOGIN_LINK_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.sessions.IssueLoginToken(ctx, user)
	if err != nil {
		return oops.Code("LOGIN_LINK_REQUEST_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	return s.notifier.DeliverLoginLink(ctx, user.Email, buildURL(token))
}

// newID returns a fresh entity ID seeded from the service clock.
func (s *Service) newID() ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy())
}
