// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by the user repository when an insert or update
// collides with the case-insensitive unique index on email.
var ErrEmailTaken = errors.New("email already taken")

// ErrInvalidEncoding is returned when a transported token string fails to
// decode. Callers treat it the same as a token that does not exist.
var ErrInvalidEncoding = errors.New("invalid token encoding")

// ErrTransactionAborted is returned when any step of a token-consuming
// transaction fails: missing token, wrong context, expired, or an email that
// changed between mint and confirmation. It is deliberately coarse so callers
// cannot distinguish why the token was rejected.
var ErrTransactionAborted = errors.New("transaction aborted")

// ValidationErrors collects per-field validation failures. All rules for an
// operation are evaluated before returning, so a caller can render every
// problem at once.
type ValidationErrors map[string][]string

// Add appends a failure reason for a field.
func (v ValidationErrors) Add(field, reason string) {
	v[field] = append(v[field], reason)
}

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(v[f], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationErrors unwraps err into ValidationErrors if possible.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verr ValidationErrors
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
