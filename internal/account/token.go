// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	// TokenBytes is the length of the random plaintext token.
	TokenBytes = 32

	// ContextSession tags browser session tokens.
	ContextSession = "session"
	// ContextLogin tags short-lived magic-link tokens.
	ContextLogin = "login"
	// changeContextPrefix tags email-change tokens; the full context embeds
	// the email the token was minted against so a later email edit
	// invalidates the token.
	changeContextPrefix = "change:"
)

// Default validity windows per token context.
const (
	DefaultSessionValidity = 14 * 24 * time.Hour
	DefaultLoginValidity   = 15 * time.Minute
	DefaultChangeValidity  = 7 * 24 * time.Hour
	DefaultSudoWindow      = 20 * time.Minute
)

// ChangeContext returns the token context for an email-change confirmation
// minted while the user's email was the given value.
func ChangeContext(currentEmail string) string {
	return changeContextPrefix + NormalizeEmail(currentEmail)
}

// IsChangeContext reports whether the context tags an email-change token.
func IsChangeContext(context string) bool {
	return strings.HasPrefix(context, changeContextPrefix)
}

// Token is the stored form of an issued token. The plaintext exists only
// transiently at mint time; only the SHA-256 hash is persisted.
type Token struct {
	ID      ulid.ULID
	UserID  ulid.ULID
	Hash    string
	Context string
	// SentTo carries the delivery address for change tokens (the new email)
	// so staleness can be detected at confirmation time.
	SentTo *string
	// AuthenticatedAt is copied from the user at mint time for session
	// tokens and tracks authentication recency for the sudo window.
	AuthenticatedAt *time.Time
	CreatedAt       time.Time
}

// GenerateToken creates a secure random token and its stored hash.
// Returns (plaintext_bytes, sha256_hex_hash, error). The plaintext goes to
// the client after transport encoding; only the hash touches the database.
// The hash is intentionally a fast one (not argon2): the token is a
// high-entropy random value, so a database-read leak still yields nothing
// usable, and verification stays cheap.
func GenerateToken() (token []byte, hash string, err error) {
	token = make([]byte, TokenBytes)
	if _, err = rand.Read(token); err != nil {
		return nil, "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	return token, HashToken(token), nil
}

// HashToken computes the hex-encoded SHA-256 hash of a plaintext token.
func HashToken(token []byte) string {
	h := sha256.Sum256(token)
	return hex.EncodeToString(h[:])
}

// EncodeToken converts a plaintext token to its URL-safe, padding-free
// transport form.
func EncodeToken(token []byte) string {
	return base64.RawURLEncoding.EncodeToString(token)
}

// DecodeToken parses a transported token string back into plaintext bytes.
// Returns ErrInvalidEncoding on malformed input.
func DecodeToken(encoded string) ([]byte, error) {
	token, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ENCODING").Wrap(ErrInvalidEncoding)
	}
	if len(token) != TokenBytes {
		return nil, oops.Code("TOKEN_INVALID_ENCODING").
			With("length", len(token)).
			Wrap(ErrInvalidEncoding)
	}
	return token, nil
}

// TokenRepository manages token persistence. The (hash, context) pair is
// unique; expiry is enforced as a query predicate on created_at, never as a
// background sweep.
type TokenRepository interface {
	// Create stores a new token row.
	Create(ctx context.Context, token *Token) error

	// GetByHashAndContext retrieves a token by hash and exact context,
	// skipping rows created at or before issuedAfter. Returns ErrNotFound
	// when no live row matches.
	GetByHashAndContext(ctx context.Context, hash, tokenContext string, issuedAfter time.Time) (*Token, error)

	// GetSessionUser retrieves a live session token joined to its user. The
	// returned user carries AuthenticatedAt from the token row, so the user
	// record on disk is never mutated just by a login.
	GetSessionUser(ctx context.Context, hash string, issuedAfter time.Time) (*User, *Token, error)

	// DeleteAllForUser removes every token belonging to the user and
	// returns the IDs of what was invalidated.
	DeleteAllForUser(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error)

	// Delete removes a single token by hash and context. Returns
	// ErrNotFound when no row was deleted.
	Delete(ctx context.Context, hash, tokenContext string) error

	// DeleteByUserContext removes all of a user's tokens under one context
	// and returns the count deleted.
	DeleteByUserContext(ctx context.Context, userID ulid.ULID, tokenContext string) (int64, error)

	// DeleteExpired removes rows created before their context's cutoff.
	// Callers compute the cutoffs from their clock and the validity
	// windows. Operational maintenance only; correctness never depends
	// on it.
	DeleteExpired(ctx context.Context, sessionBefore, loginBefore, changeBefore time.Time) (int64, error)
}

// Transactor runs a function inside a single database transaction.
// Repository calls made with the context passed to fn participate in the
// same transaction; if fn returns an error everything rolls back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
