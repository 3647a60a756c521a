// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Email and password validation constraints. Lengths count runes except
// MaxPasswordLength, which counts bytes.
const (
	MaxEmailLength    = 160
	MinPasswordLength = 12
	// MaxPasswordLength caps hashing cost in bytes: memory-hard hashing
	// of huge inputs is an algorithmic-DoS vector.
	MaxPasswordLength = 72
)

// emailRegex requires a local part and a domain with no whitespace, comma,
// or semicolon anywhere.
var emailRegex = regexp.MustCompile(`^[^\s,;@]+@[^\s,;@]+$`)

// NormalizeEmail lowercases an email for case-insensitive comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail appends email format failures to errs.
func validateEmail(errs ValidationErrors, email string) {
	if email == "" {
		errs.Add("email", "can't be blank")
		return
	}
	if !emailRegex.MatchString(email) {
		errs.Add("email", "must have the @ sign and no spaces")
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		errs.Add("email", "should be at most 160 characters")
	}
}

// validatePassword appends password rule failures to errs.
func validatePassword(errs ValidationErrors, password, confirmation string) {
	if password == "" {
		errs.Add("password", "can't be blank")
		return
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		errs.Add("password", "should be at least 12 characters")
	}
	if len(password) > MaxPasswordLength {
		errs.Add("password", "should be at most 72 bytes")
	}
	if password != confirmation {
		errs.Add("password_confirmation", "does not match password")
	}
}
