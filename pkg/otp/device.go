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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// deviceTokenSize is the trusted-device token length in bytes.
const deviceTokenSize = 32

// DeviceToken pairs an opaque trusted-device token plaintext with its
// stored hash. The plaintext is returned to the caller exactly once for
// storage as a client-side credential; only the hash is persisted.
type DeviceToken struct {
	Plaintext string
	Hash      string
}

// GenerateDeviceToken produces a new CSPRNG-derived opaque device token.
func GenerateDeviceToken() (*DeviceToken, error) {
	raw := make([]byte, deviceTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("otp: generate device token: %w", err)
	}

	plaintext := base64.RawURLEncoding.EncodeToString(raw)
	return &DeviceToken{
		Plaintext: plaintext,
		Hash:      HashDeviceToken(plaintext),
	}, nil
}

// HashDeviceToken returns the hex SHA-256 digest of a presented token,
// the form under which tokens are persisted and looked up.
func HashDeviceToken(plaintext string) string {
	digest := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(digest[:])
}
