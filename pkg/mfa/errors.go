// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package mfa

import "errors"

var (
	// ErrInvalidUserID is returned when a user identifier is empty or
	// contains unsafe characters. Checked before any store access.
	ErrInvalidUserID = errors.New("mfa: invalid user identifier")

	// ErrInvalidCodeFormat is returned when a submitted code fails the
	// shape check (6 digits for TOTP, 8 characters for backup codes).
	// Checked before any store access or cryptographic comparison.
	ErrInvalidCodeFormat = errors.New("mfa: invalid code format")

	// ErrAlreadyEnrolled is returned when setup is initiated for a
	// user who already has an active factor.
	ErrAlreadyEnrolled = errors.New("mfa: already enrolled")

	// ErrNoPendingSetup is returned when setup is confirmed for a user
	// with no pending factor.
	ErrNoPendingSetup = errors.New("mfa: no pending setup")

	// ErrNotEnrolled is returned when a verification operation targets
	// a user with no active factor.
	ErrNotEnrolled = errors.New("mfa: not enrolled")

	// ErrInvalidCode is returned when a cryptographic check fails.
	// It deliberately covers a wrong TOTP code, a replayed TOTP code,
	// and a wrong, unknown, or already-used backup code, so callers
	// cannot distinguish them.
	ErrInvalidCode = errors.New("mfa: invalid code")

	// ErrInvalidCredential is returned when the identity provider
	// rejects the primary-credential re-proof during a step-up
	// operation.
	ErrInvalidCredential = errors.New("mfa: invalid credential")

	// ErrRateLimited is returned when abuse control rejects the
	// request before any cryptographic check is performed.
	ErrRateLimited = errors.New("mfa: rate limited, try again later")

	// ErrAlreadyActive is returned when setup confirmation races with
	// a completed activation and the submitted code is not a replay.
	ErrAlreadyActive = errors.New("mfa: factor already active")

	// ErrFactorNotFound is returned by store operations when no
	// matching factor exists.
	ErrFactorNotFound = errors.New("mfa: factor not found")

	// ErrCodeNotFound is returned by store operations when a backup
	// code record does not exist.
	ErrCodeNotFound = errors.New("mfa: backup code not found")

	// ErrCodeUsed is returned by the store when a backup code has
	// already been redeemed. The service surfaces it as ErrInvalidCode.
	ErrCodeUsed = errors.New("mfa: backup code already used")

	// ErrNoIdentityProvider is returned when a step-up operation runs
	// without a configured identity provider.
	ErrNoIdentityProvider = errors.New("mfa: no identity provider configured")
)
