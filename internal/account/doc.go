// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package account provides the user-account and session-authentication core
// for Gatehouse.
//
// # Domain Types
//
// User is the registered account; Token is the stored form of an opaque
// random credential, partitioned by a context string ("session", "login",
// "change:<email>") so a token minted for one purpose can never validate
// another. Only SHA-256 hashes of tokens are persisted; password hashes use
// argon2id.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - registration, authentication, password and email rotation
//   - TokenService - token issuance, verification, and consumption
//   - Notifier - delivery of email-change and magic-link instructions
//
// Services are created with New* constructors that validate dependencies.
// Persistence is abstracted behind UserRepository, TokenRepository, and
// Transactor; the PostgreSQL implementations live in the postgres
// subpackage.
package account
