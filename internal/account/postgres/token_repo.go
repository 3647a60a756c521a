// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/account"
)

// TokenRepository implements account.TokenRepository using PostgreSQL.
// Expiry is a query predicate on created_at; rows are never removed just for
// being old except through DeleteExpired maintenance.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new token row. The unique index on (hash, context)
// rejects duplicates.
func (r *TokenRepository) Create(ctx context.Context, token *account.Token) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO user_tokens (id, user_id, hash, context, sent_to, authenticated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Hash,
		token.Context,
		token.SentTo,
		token.AuthenticatedAt,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_DUPLICATE").
				With("context", token.Context).
				Wrap(err)
		}
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByHashAndContext retrieves a live token by hash and exact context.
func (r *TokenRepository) GetByHashAndContext(ctx context.Context, hash, tokenContext string, issuedAfter time.Time) (*account.Token, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, hash, context, sent_to, authenticated_at, created_at
		FROM user_tokens
		WHERE hash = $1 AND context = $2 AND created_at > $3
	`, hash, tokenContext, issuedAfter)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get token by hash and context").
			Wrap(err)
	}
	return token, nil
}

// GetSessionUser retrieves a live session token joined to its user. The
// returned user's AuthenticatedAt comes from the token row, not the users
// table.
func (r *TokenRepository) GetSessionUser(ctx context.Context, hash string, issuedAfter time.Time) (*account.User, *account.Token, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT u.id, u.email, u.hashed_password, u.confirmed_at, u.created_at, u.updated_at,
		       t.id, t.user_id, t.hash, t.context, t.sent_to, t.authenticated_at, t.created_at
		FROM user_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.hash = $1 AND t.context = 'session' AND t.created_at > $2
	`, hash, issuedAfter)

	var (
		userIDStr      string
		email          string
		hashedPassword string
		confirmedAt    *time.Time
		userCreatedAt  time.Time
		userUpdatedAt  time.Time

		tokenIDStr      string
		tokenUserIDStr  string
		tokenHash       string
		tokenContext    string
		sentTo          *string
		authenticatedAt *time.Time
		tokenCreatedAt  time.Time
	)

	err := row.Scan(
		&userIDStr, &email, &hashedPassword, &confirmedAt, &userCreatedAt, &userUpdatedAt,
		&tokenIDStr, &tokenUserIDStr, &tokenHash, &tokenContext, &sentTo, &authenticatedAt, &tokenCreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, oops.Code("TOKEN_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, nil, oops.Code("TOKEN_GET_SESSION_FAILED").
			With("operation", "get session user").
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", userIDStr).
			Wrap(err)
	}
	tokenID, err := ulid.Parse(tokenIDStr)
	if err != nil {
		return nil, nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", tokenIDStr).
			Wrap(err)
	}
	tokenUserID, err := ulid.Parse(tokenUserIDStr)
	if err != nil {
		return nil, nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token user id").
			With("user_id", tokenUserIDStr).
			Wrap(err)
	}

	user := &account.User{
		ID:              userID,
		Email:           email,
		HashedPassword:  hashedPassword,
		ConfirmedAt:     confirmedAt,
		AuthenticatedAt: authenticatedAt,
		CreatedAt:       userCreatedAt,
		UpdatedAt:       userUpdatedAt,
	}
	token := &account.Token{
		ID:              tokenID,
		UserID:          tokenUserID,
		Hash:            tokenHash,
		Context:         tokenContext,
		SentTo:          sentTo,
		AuthenticatedAt: authenticatedAt,
		CreatedAt:       tokenCreatedAt,
	}
	return user, token, nil
}

// DeleteAllForUser removes every token for the user and returns the IDs of
// what was invalidated.
func (r *TokenRepository) DeleteAllForUser(ctx context.Context, userID ulid.ULID) ([]ulid.ULID, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		DELETE FROM user_tokens WHERE user_id = $1
		RETURNING id
	`, userID.String())
	if err != nil {
		return nil, oops.Code("TOKEN_DELETE_ALL_FAILED").
			With("operation", "delete tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var deleted []ulid.ULID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, oops.Code("TOKEN_SCAN_FAILED").
				With("operation", "scan deleted token id").
				Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("TOKEN_INVALID_ID").
				With("operation", "parse deleted token id").
				With("id", idStr).
				Wrap(err)
		}
		deleted = append(deleted, id)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("TOKEN_ROWS_ERROR").
			With("operation", "iterate deleted token ids").
			Wrap(err)
	}

	return deleted, nil
}

// Delete removes a single token by hash and context.
func (r *TokenRepository) Delete(ctx context.Context, hash, tokenContext string) error {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM user_tokens WHERE hash = $1 AND context = $2
	`, hash, tokenContext)
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete token").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return nil
}

// DeleteByUserContext removes all of a user's tokens under one context and
// returns the count deleted.
func (r *TokenRepository) DeleteByUserContext(ctx context.Context, userID ulid.ULID, tokenContext string) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM user_tokens WHERE user_id = $1 AND context = $2
	`, userID.String(), tokenContext)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_BY_CONTEXT_FAILED").
			With("operation", "delete tokens by user and context").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes rows created before their context's cutoff and
// returns the count. Maintenance only; live queries already exclude expired
// rows.
func (r *TokenRepository) DeleteExpired(ctx context.Context, sessionBefore, loginBefore, changeBefore time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM user_tokens
		WHERE (context = 'session' AND created_at < $1)
		   OR (context = 'login' AND created_at < $2)
		   OR (context LIKE 'change:%' AND created_at < $3)
	`,
		sessionBefore, loginBefore, changeBefore,
	)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a Token.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*account.Token, error) {
	var (
		idStr           string
		userIDStr       string
		hash            string
		tokenContext    string
		sentTo          *string
		authenticatedAt *time.Time
		createdAt       time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &hash, &tokenContext, &sentTo, &authenticatedAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &account.Token{
		ID:              id,
		UserID:          userID,
		Hash:            hash,
		Context:         tokenContext,
		SentTo:          sentTo,
		AuthenticatedAt: authenticatedAt,
		CreatedAt:       createdAt,
	}, nil
}

// Compile-time interface check.
var _ account.TokenRepository = (*TokenRepository)(nil)
