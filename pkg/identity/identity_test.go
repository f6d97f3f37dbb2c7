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

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_VerifyCredential(t *testing.T) {
	provider := NewStatic(map[string]string{
		"alice": "hunter2",
		"bob":   "correct horse battery staple",
	})
	ctx := context.Background()

	t.Run("valid credential", func(t *testing.T) {
		valid, err := provider.VerifyCredential(ctx, "alice", "hunter2")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("wrong credential", func(t *testing.T) {
		valid, err := provider.VerifyCredential(ctx, "alice", "hunter3")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("unknown user", func(t *testing.T) {
		valid, err := provider.VerifyCredential(ctx, "mallory", "hunter2")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("empty credential", func(t *testing.T) {
		valid, err := provider.VerifyCredential(ctx, "alice", "")
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestStatic_Authenticate(t *testing.T) {
	provider := NewStatic(nil)

	principal, err := provider.Authenticate(context.Background())
	require.NoError(t, err)
	assert.False(t, principal.Authenticated)
}

func TestNewStatic_CopiesTable(t *testing.T) {
	table := map[string]string{"alice": "hunter2"}
	provider := NewStatic(table)
	table["alice"] = "changed"

	valid, err := provider.VerifyCredential(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, valid)
}
