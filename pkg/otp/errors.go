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

package otp

import "errors"

var (
	// ErrEmptySecret is returned when an operation is given an empty
	// TOTP secret.
	ErrEmptySecret = errors.New("otp: secret cannot be empty")

	// ErrCodeFormat is returned when a submitted TOTP code is not
	// exactly 6 digits.
	ErrCodeFormat = errors.New("otp: code must be exactly 6 digits")

	// ErrBackupCodeFormat is returned when a submitted backup code is
	// not 8 characters from the backup code alphabet.
	ErrBackupCodeFormat = errors.New("otp: backup code must be 8 uppercase alphanumeric characters")

	// ErrInvalidAccount is returned when secret generation is given an
	// empty issuer or account label.
	ErrInvalidAccount = errors.New("otp: issuer and account label cannot be empty")

	// ErrMalformedHash is returned when a stored backup code hash does
	// not parse. It indicates corrupted persistence, not user error.
	ErrMalformedHash = errors.New("otp: malformed backup code hash")
)
