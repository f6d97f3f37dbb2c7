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

// Package identity defines the boundary to the external identity
// provider. The MFA subsystem never issues or validates primary
// credentials itself; it consumes an already-authenticated principal and,
// for step-up operations such as disabling MFA, delegates re-proof of the
// primary credential to this interface.
package identity

import (
	"context"
	"crypto/subtle"
)

// Principal is an authenticated account as reported by the provider.
type Principal struct {
	// Authenticated indicates whether the request carries a valid
	// primary-credential session.
	Authenticated bool

	// UserID is the canonical account identifier.
	UserID string

	// Email is the account email, when the provider exposes one.
	Email string
}

// Provider is the external identity collaborator.
type Provider interface {
	// Authenticate resolves the principal for the current request
	// context.
	Authenticate(ctx context.Context) (*Principal, error)

	// VerifyCredential re-proves the primary credential for a user.
	// Used by step-up operations; returns true only when the supplied
	// proof is valid for the account.
	VerifyCredential(ctx context.Context, userID, credential string) (bool, error)
}

// Static is a Provider backed by a fixed credential table. It exists for
// the CLI and for tests; production deployments adapt their identity
// system to the Provider interface instead.
type Static struct {
	credentials map[string]string
}

// NewStatic creates a Static provider from a userID -> credential map.
func NewStatic(credentials map[string]string) *Static {
	table := make(map[string]string, len(credentials))
	for user, cred := range credentials {
		table[user] = cred
	}
	return &Static{credentials: table}
}

// Authenticate always reports an unauthenticated principal; the Static
// provider has no session concept.
func (s *Static) Authenticate(ctx context.Context) (*Principal, error) {
	return &Principal{Authenticated: false}, nil
}

// VerifyCredential compares the supplied proof against the fixed table
// in constant time.
func (s *Static) VerifyCredential(ctx context.Context, userID, credential string) (bool, error) {
	expected, exists := s.credentials[userID]
	if !exists {
		// Equalize timing for unknown users.
		subtle.ConstantTimeCompare([]byte(credential), []byte(credential))
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(credential)) == 1, nil
}
