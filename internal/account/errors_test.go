// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/account"
)

func TestValidationErrors(t *testing.T) {
	t.Run("accumulates multiple reasons per field", func(t *testing.T) {
		errs := account.ValidationErrors{}
		errs.Add("password", "should be at least 12 characters")
		errs.Add("password", "should be at most 72 characters")

		assert.Len(t, errs["password"], 2)
	})

	t.Run("renders fields sorted", func(t *testing.T) {
		errs := account.ValidationErrors{}
		errs.Add("password", "can't be blank")
		errs.Add("email", "can't be blank")

		assert.Equal(t, "validation failed: email: can't be blank; password: can't be blank", errs.Error())
	})

	t.Run("joins reasons for one field", func(t *testing.T) {
		errs := account.ValidationErrors{}
		errs.Add("email", "must have the @ sign and no spaces")
		errs.Add("email", "should be at most 160 characters")

		assert.Contains(t, errs.Error(), "must have the @ sign and no spaces, should be at most 160 characters")
	})
}

func TestAsValidationErrors(t *testing.T) {
	t.Run("unwraps validation errors", func(t *testing.T) {
		errs := account.ValidationErrors{}
		errs.Add("email", "can't be blank")

		wrapped := fmt.Errorf("register: %w", errs)

		got, ok := account.AsValidationErrors(wrapped)
		require.True(t, ok)
		assert.Equal(t, []string{"can't be blank"}, got["email"])
	})

	t.Run("returns false for other errors", func(t *testing.T) {
		_, ok := account.AsValidationErrors(account.ErrNotFound)
		assert.False(t, ok)
	})
}
