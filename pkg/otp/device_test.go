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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeviceToken(t *testing.T) {
	token, err := GenerateDeviceToken()
	require.NoError(t, err)

	assert.NotEmpty(t, token.Plaintext)
	assert.Equal(t, HashDeviceToken(token.Plaintext), token.Hash)

	// 64 hex characters for a SHA-256 digest.
	assert.Len(t, token.Hash, 64)

	other, err := GenerateDeviceToken()
	require.NoError(t, err)
	assert.NotEqual(t, token.Plaintext, other.Plaintext)
	assert.NotEqual(t, token.Hash, other.Hash)
}

func TestHashDeviceToken(t *testing.T) {
	// Deterministic: presenting the same token always finds the same
	// stored record.
	assert.Equal(t, HashDeviceToken("token-a"), HashDeviceToken("token-a"))
	assert.NotEqual(t, HashDeviceToken("token-a"), HashDeviceToken("token-b"))
}
