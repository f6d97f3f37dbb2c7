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
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// BackupCodeLength is the length of a backup code in characters.
	BackupCodeLength = 8

	// BackupCodeBatchSize is the number of codes issued per batch.
	BackupCodeBatchSize = 10

	// backupCodeAlphabet excludes ambiguous characters (I, L, O, 0, 1).
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	// PBKDF2 parameters for backup code hashing. Codes carry ~39 bits
	// of entropy, so the work factor matters.
	backupCodeSaltSize   = 16
	backupCodeIterations = 50000
	backupCodeKeySize    = 32
)

// GeneratedCode pairs a backup code plaintext with its stored hash.
// The plaintext is surfaced to the user exactly once and never persisted.
type GeneratedCode struct {
	Plaintext string
	Hash      string
}

// GenerateBackupCodes produces n single-use backup codes from a CSPRNG.
// If n <= 0, BackupCodeBatchSize codes are generated.
func GenerateBackupCodes(n int) ([]GeneratedCode, error) {
	if n <= 0 {
		n = BackupCodeBatchSize
	}

	codes := make([]GeneratedCode, 0, n)
	seen := make(map[string]bool, n)
	for len(codes) < n {
		plaintext, err := randomBackupCode()
		if err != nil {
			return nil, err
		}
		if seen[plaintext] {
			continue
		}
		seen[plaintext] = true

		hash, err := HashBackupCode(plaintext)
		if err != nil {
			return nil, err
		}
		codes = append(codes, GeneratedCode{Plaintext: plaintext, Hash: hash})
	}
	return codes, nil
}

// randomBackupCode draws one code from the unambiguous alphabet using
// rejection sampling to avoid modulo bias.
func randomBackupCode() (string, error) {
	var code strings.Builder
	code.Grow(BackupCodeLength)

	// Largest multiple of the alphabet size below 256.
	max := byte(256 - (256 % len(backupCodeAlphabet)))

	buf := make([]byte, BackupCodeLength*2)
	for code.Len() < BackupCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("otp: generate backup code: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			code.WriteByte(backupCodeAlphabet[int(b)%len(backupCodeAlphabet)])
			if code.Len() == BackupCodeLength {
				break
			}
		}
	}
	return code.String(), nil
}

// HashBackupCode derives a salted PBKDF2-SHA256 hash of a backup code.
// The stored form is "base64(salt)$base64(key)".
func HashBackupCode(code string) (string, error) {
	salt := make([]byte, backupCodeSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("otp: generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(code), salt, backupCodeIterations, backupCodeKeySize, sha256.New)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// NormalizeBackupCode strips whitespace and hyphens and uppercases a
// user-submitted backup code.
func NormalizeBackupCode(code string) string {
	code = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, code)
	return strings.ToUpper(code)
}

// ValidBackupCodeFormat reports whether a normalized code is 8 characters
// of uppercase letters and digits.
func ValidBackupCodeFormat(code string) bool {
	if len(code) != BackupCodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// VerifyBackupCode normalizes the submitted code and compares it against
// every stored hash in constant time per candidate, without early exit.
// It returns the index of the matching hash, or -1 when no hash matches.
//
// Returns ErrBackupCodeFormat when the normalized submission is
// malformed and ErrMalformedHash when a stored hash does not parse.
func VerifyBackupCode(hashes []string, submitted string) (int, error) {
	code := NormalizeBackupCode(submitted)
	if !ValidBackupCodeFormat(code) {
		return -1, ErrBackupCodeFormat
	}

	match := -1
	for i, stored := range hashes {
		salt, key, err := parseBackupCodeHash(stored)
		if err != nil {
			return -1, err
		}
		derived := pbkdf2.Key([]byte(code), salt, backupCodeIterations, backupCodeKeySize, sha256.New)
		if subtle.ConstantTimeCompare(derived, key) == 1 && match == -1 {
			match = i
		}
	}
	return match, nil
}

func parseBackupCodeHash(stored string) (salt, key []byte, err error) {
	parts := strings.SplitN(stored, "$", 2)
	if len(parts) != 2 {
		return nil, nil, ErrMalformedHash
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, ErrMalformedHash
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, ErrMalformedHash
	}
	return salt, key, nil
}
