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

// Package mfa implements the multi-factor authentication subsystem:
// factor enrollment and verification, one-time backup codes,
// trusted-device bypass, and the rate-limit and audit controls that
// protect them.
//
// Users are identified by a single canonical account identifier supplied
// by the caller (typically the identity provider's user ID). The package
// never sees primary credentials; step-up re-proof is delegated to the
// identity.Provider boundary.
package mfa

import "time"

// FactorStatus is the lifecycle status of a persisted factor.
type FactorStatus string

const (
	// StatusPending marks a factor created by setup-initiate but not
	// yet confirmed. A pending factor grants no login capability.
	StatusPending FactorStatus = "pending"

	// StatusActive marks a factor confirmed by a verified TOTP
	// submission.
	StatusActive FactorStatus = "active"
)

// FactorState is the explicit enrollment state of a user.
type FactorState string

const (
	// StateAbsent means the user has no factor.
	StateAbsent FactorState = "absent"

	// StatePending means the user has an unconfirmed setup in flight.
	StatePending FactorState = "pending"

	// StateActive means the user is enrolled.
	StateActive FactorState = "active"
)

// Factor is a user's MFA enrollment. At most one factor exists per user.
type Factor struct {
	// ID is the unique factor identifier.
	ID string `json:"id"`

	// UserID is the owning account identifier.
	UserID string `json:"user_id"`

	// Secret is the base32-encoded TOTP secret. It is returned to the
	// client during enrollment only and never again afterwards.
	Secret string `json:"secret"`

	// Status is the lifecycle status (pending or active).
	Status FactorStatus `json:"status"`

	// LastStep is the highest TOTP step counter consumed by a
	// successful verification. A later verification must match a
	// strictly greater step, which rejects replay of a code within
	// its time step.
	LastStep int64 `json:"last_step"`

	// CreatedAt is when setup was initiated.
	CreatedAt time.Time `json:"created_at"`

	// ActivatedAt is when the factor was confirmed, if it has been.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// BackupCode is a single-use recovery credential. Only the hash of the
// 8-character code is stored.
type BackupCode struct {
	// ID is the unique code identifier.
	ID string `json:"id"`

	// Hash is the salted PBKDF2 hash of the code plaintext.
	Hash string `json:"hash"`

	// Used is set exactly once, when the code is redeemed.
	Used bool `json:"used"`

	// UsedAt is when the code was redeemed, if it has been.
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// TrustedDevice is a device allowed to skip interactive MFA until
// ExpiresAt. Only the hash of the device token is stored.
type TrustedDevice struct {
	// ID is the unique device record identifier.
	ID string `json:"id"`

	// UserID is the owning account identifier.
	UserID string `json:"user_id"`

	// TokenHash is the SHA-256 hash of the opaque device token.
	TokenHash string `json:"token_hash"`

	// Metadata describes the client the token was issued to.
	Metadata DeviceMetadata `json:"metadata"`

	// CreatedAt is when the token was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the token stops being honored.
	ExpiresAt time.Time `json:"expires_at"`
}

// DeviceMetadata is non-sensitive context describing a trusted device.
type DeviceMetadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Label     string `json:"label,omitempty"`
}

// CodeCount summarizes a factor's backup code inventory.
type CodeCount struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// ClientInfo is caller-supplied request context used for rate limiting
// and audit attribution. IP keys the rate limiter; when empty, the user
// identifier is used instead.
type ClientInfo struct {
	IP        string
	UserAgent string
}
