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

// Package otp implements the cryptographic primitives of the MFA
// subsystem: TOTP secret generation and verification (RFC 6238), one-time
// backup codes, and trusted-device tokens. All functions are stateless
// and safe for concurrent use.
//
// Every random value is drawn from crypto/rand. Submitted codes are
// format-checked before any cryptographic work and compared in constant
// time.
package otp

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"time"

	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30

	// Digits is the number of digits in a TOTP code.
	Digits = 6

	// secretSize is the TOTP secret length in bytes (160 bits,
	// the RFC 4226 recommended minimum).
	secretSize = 20
)

// Secret is an enrollment secret with its provisioning URI.
type Secret struct {
	// Base32 is the shared secret in the standard base32 alphabet,
	// suitable for manual entry into an authenticator app.
	Base32 string

	// URI is the otpauth:// provisioning URI for QR rendering.
	URI string
}

// GenerateSecret produces a new TOTP secret for the given issuer and
// account label using a CSPRNG.
func GenerateSecret(issuer, account string) (*Secret, error) {
	if issuer == "" || account == "" {
		return nil, ErrInvalidAccount
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      Period,
		SecretSize:  secretSize,
		Digits:      pqotp.DigitsSix,
		Algorithm:   pqotp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("otp: generate secret: %w", err)
	}

	return &Secret{
		Base32: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// ProvisioningURI rebuilds the otpauth:// enrollment URI for an existing
// secret. It does not mutate state.
func ProvisioningURI(secret, account, issuer string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if issuer == "" || account == "" {
		return "", ErrInvalidAccount
	}

	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", fmt.Sprintf("%d", Digits))
	values.Set("period", fmt.Sprintf("%d", Period))

	uri := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: values.Encode(),
	}
	return uri.String(), nil
}

// ValidCodeFormat reports whether a submitted TOTP code is exactly
// 6 ASCII digits.
func ValidCodeFormat(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Step returns the RFC 6238 step counter for the given time.
func Step(t time.Time) int64 {
	return t.Unix() / Period
}

// VerifyCode checks a submitted code against the secret at the current
// time step and one step on either side, tolerating up to 30 seconds of
// clock drift. Comparison is constant time and all candidate steps are
// evaluated regardless of earlier matches.
//
// On success it returns the step counter the code matched so callers can
// reject a replay of the same code within the same step.
//
// Returns ErrCodeFormat for codes that are not exactly 6 digits and
// ErrEmptySecret for an empty secret; an error from the underlying TOTP
// computation indicates a corrupt secret and is wrapped as-is.
func VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if secret == "" {
		return false, 0, ErrEmptySecret
	}
	if !ValidCodeFormat(code) {
		return false, 0, ErrCodeFormat
	}

	opts := totp.ValidateOpts{
		Period:    Period,
		Skew:      0,
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	}

	matched := false
	var matchedStep int64
	for _, offset := range []int{-1, 0, 1} {
		at := now.Add(time.Duration(offset*Period) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return false, 0, fmt.Errorf("otp: compute code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !matched {
			matched = true
			matchedStep = Step(at)
		}
	}

	if !matched {
		return false, 0, nil
	}
	return true, matchedStep, nil
}
