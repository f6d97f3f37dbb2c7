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

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-mfa/pkg/audit"
	"github.com/jeremyhahn/go-mfa/pkg/metrics"
	"github.com/jeremyhahn/go-mfa/pkg/otp"
)

// VerifyLogin checks a 6-digit TOTP code for a login or step-up prompt.
// On success, a trusted-device token is minted when trustDevice is set.
// A wrong code and a replayed code are both reported as ErrInvalidCode.
func (s *Service) VerifyLogin(ctx context.Context, userID, code string, trustDevice bool, client ClientInfo) (*LoginResult, error) {
	defer metrics.Timer(metrics.OpVerifyLogin)()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !otp.ValidCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}
	if err := s.checkLimit(metrics.OpVerifyLogin, s.limits.VerifyLogin, userID, client); err != nil {
		return nil, err
	}

	factor, err := s.activeFactor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.verifyTOTP(ctx, userID, factor, code, audit.ActionVerifyLogin, metrics.OpVerifyLogin, client); err != nil {
		return nil, err
	}

	result := &LoginResult{}
	if trustDevice {
		if err := s.issueTrustedDevice(ctx, userID, client, result); err != nil {
			return nil, err
		}
	}

	s.record(ctx, userID, audit.ActionVerifyLogin, true, client, "")
	metrics.RecordOperation(metrics.OpVerifyLogin, metrics.StatusSuccess)
	return result, nil
}

// VerifyBackupCode redeems a single-use backup code for a login prompt.
// The code is consumed on success; a wrong, unknown, or already-used code
// is reported as ErrInvalidCode without distinguishing which. The result
// warns when the remaining inventory is at or below
// LowBackupCodeThreshold.
func (s *Service) VerifyBackupCode(ctx context.Context, userID, code string, trustDevice bool, client ClientInfo) (*LoginResult, error) {
	defer metrics.Timer(metrics.OpVerifyBackupCode)()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	normalized := otp.NormalizeBackupCode(code)
	if !otp.ValidBackupCodeFormat(normalized) {
		return nil, ErrInvalidCodeFormat
	}
	if err := s.checkLimit(metrics.OpVerifyBackupCode, s.limits.VerifyBackupCode, userID, client); err != nil {
		return nil, err
	}

	factor, err := s.activeFactor(ctx, userID)
	if err != nil {
		return nil, err
	}

	codes, err := s.store.BackupCodes(ctx, factor.ID)
	if err != nil {
		return nil, fmt.Errorf("mfa: verify backup code: %w", err)
	}

	hashes := make([]string, len(codes))
	for i, record := range codes {
		hashes[i] = record.Hash
	}

	match, err := otp.VerifyBackupCode(hashes, normalized)
	if err != nil {
		return nil, fmt.Errorf("mfa: verify backup code: %w", err)
	}
	if match < 0 {
		s.record(ctx, userID, audit.ActionVerifyBackupCode, false, client, "invalid code")
		metrics.RecordOperation(metrics.OpVerifyBackupCode, metrics.StatusFailure)
		return nil, ErrInvalidCode
	}

	// Conditional consumption: a concurrent redeemer of the same code
	// loses here and is indistinguishable from a wrong code.
	if err := s.store.ConsumeBackupCode(ctx, factor.ID, codes[match].ID); err != nil {
		if errors.Is(err, ErrCodeUsed) || errors.Is(err, ErrCodeNotFound) {
			s.record(ctx, userID, audit.ActionVerifyBackupCode, false, client, "invalid code")
			metrics.RecordOperation(metrics.OpVerifyBackupCode, metrics.StatusFailure)
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("mfa: verify backup code: %w", err)
	}

	count, err := s.store.CountBackupCodes(ctx, factor.ID)
	if err != nil {
		return nil, fmt.Errorf("mfa: verify backup code: %w", err)
	}

	result := &LoginResult{
		Remaining: count.Remaining,
		LowCodes:  count.Remaining <= LowBackupCodeThreshold,
	}
	if trustDevice {
		if err := s.issueTrustedDevice(ctx, userID, client, result); err != nil {
			return nil, err
		}
	}

	s.record(ctx, userID, audit.ActionVerifyBackupCode, true, client, "")
	metrics.RecordOperation(metrics.OpVerifyBackupCode, metrics.StatusSuccess)
	return result, nil
}

// Disable removes the user's active factor. It requires both a re-proof
// of the primary credential through the identity provider and a valid
// TOTP code, so a stolen session token alone cannot disable MFA. On
// success, backup codes and trusted devices are deleted with the factor.
func (s *Service) Disable(ctx context.Context, userID, credential, code string, client ClientInfo) error {
	defer metrics.Timer(metrics.OpDisable)()

	if err := validateUserID(userID); err != nil {
		return err
	}
	if !otp.ValidCodeFormat(code) {
		return ErrInvalidCodeFormat
	}
	if err := s.checkLimit(metrics.OpDisable, s.limits.Disable, userID, client); err != nil {
		return err
	}
	if s.idp == nil {
		return ErrNoIdentityProvider
	}

	factor, err := s.activeFactor(ctx, userID)
	if err != nil {
		return err
	}

	valid, err := s.idp.VerifyCredential(ctx, userID, credential)
	if err != nil {
		return fmt.Errorf("mfa: disable: verify credential: %w", err)
	}
	if !valid {
		s.record(ctx, userID, audit.ActionDisable, false, client, "invalid credential")
		metrics.RecordOperation(metrics.OpDisable, metrics.StatusFailure)
		return ErrInvalidCredential
	}

	if err := s.verifyTOTP(ctx, userID, factor, code, audit.ActionDisable, metrics.OpDisable, client); err != nil {
		return err
	}

	removed, err := s.store.DisableFactor(ctx, userID)
	if err != nil {
		return fmt.Errorf("mfa: disable: %w", err)
	}
	if !removed {
		// Raced with another disable; the factor is gone either way.
		return ErrNotEnrolled
	}

	s.record(ctx, userID, audit.ActionDisable, true, client, "")
	metrics.RecordOperation(metrics.OpDisable, metrics.StatusSuccess)
	s.logger.Info("mfa factor disabled", "user", userID)
	return nil
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh
// batch of 10 after verifying a TOTP code. Every previously issued code
// stops verifying atomically with the replacement.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string, client ClientInfo) ([]string, error) {
	defer metrics.Timer(metrics.OpRegenerateCodes)()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !otp.ValidCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}
	if err := s.checkLimit(metrics.OpRegenerateCodes, s.limits.RegenerateCodes, userID, client); err != nil {
		return nil, err
	}

	factor, err := s.activeFactor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.verifyTOTP(ctx, userID, factor, code, audit.ActionRegenerateCodes, metrics.OpRegenerateCodes, client); err != nil {
		return nil, err
	}

	generated, err := otp.GenerateBackupCodes(otp.BackupCodeBatchSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: regenerate backup codes: %w", err)
	}

	hashes := make([]string, len(generated))
	plaintexts := make([]string, len(generated))
	for i, gc := range generated {
		hashes[i] = gc.Hash
		plaintexts[i] = gc.Plaintext
	}

	if err := s.store.ReplaceBackupCodes(ctx, factor.ID, hashes); err != nil {
		return nil, fmt.Errorf("mfa: regenerate backup codes: %w", err)
	}

	s.record(ctx, userID, audit.ActionRegenerateCodes, true, client, "")
	metrics.RecordOperation(metrics.OpRegenerateCodes, metrics.StatusSuccess)
	return plaintexts, nil
}

// ConsultTrustedDevice reports whether the presented device token allows
// the user to skip interactive MFA. It fails closed: a missing, expired,
// or mismatched token, a user without an active factor, and any store
// error all report false.
func (s *Service) ConsultTrustedDevice(ctx context.Context, userID, deviceToken string) bool {
	defer metrics.Timer(metrics.OpTrustedDevice)()

	if validateUserID(userID) != nil || deviceToken == "" {
		return false
	}

	if _, err := s.store.GetActiveFactor(ctx, userID); err != nil {
		return false
	}

	trusted, err := s.store.FindValidTrustedDevice(ctx, userID, otp.HashDeviceToken(deviceToken))
	if err != nil {
		s.logger.Errorf("trusted device lookup failed: %v", err)
		return false
	}

	s.record(ctx, userID, audit.ActionTrustedDeviceCheck, trusted, ClientInfo{}, "")
	if trusted {
		metrics.RecordOperation(metrics.OpTrustedDevice, metrics.StatusSuccess)
	} else {
		metrics.RecordOperation(metrics.OpTrustedDevice, metrics.StatusFailure)
	}
	return trusted
}

// BackupCodeStatus summarizes the user's backup code inventory.
func (s *Service) BackupCodeStatus(ctx context.Context, userID string) (*CodeCount, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	factor, err := s.activeFactor(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountBackupCodes(ctx, factor.ID)
	if err != nil {
		return nil, fmt.Errorf("mfa: backup code status: %w", err)
	}
	return count, nil
}

// ListTrustedDevices returns the user's non-expired trusted devices.
func (s *Service) ListTrustedDevices(ctx context.Context, userID string) ([]*TrustedDevice, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	devices, err := s.store.ListTrustedDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mfa: list trusted devices: %w", err)
	}
	return devices, nil
}

// RevokeTrustedDevice deletes one of the user's trusted devices.
func (s *Service) RevokeTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	removed, err := s.store.RevokeTrustedDevice(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("mfa: revoke trusted device: %w", err)
	}
	return removed, nil
}

// activeFactor loads the user's active factor, mapping its absence to
// ErrNotEnrolled.
func (s *Service) activeFactor(ctx context.Context, userID string) (*Factor, error) {
	factor, err := s.store.GetActiveFactor(ctx, userID)
	if errors.Is(err, ErrFactorNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("mfa: load active factor: %w", err)
	}
	return factor, nil
}

// verifyTOTP runs the TOTP check plus replay protection for an active
// factor, auditing the failure cases under the given action.
func (s *Service) verifyTOTP(ctx context.Context, userID string, factor *Factor, code string, action audit.Action, operation string, client ClientInfo) error {
	ok, step, err := otp.VerifyCode(factor.Secret, code, s.now())
	if err != nil {
		return fmt.Errorf("mfa: verify code: %w", err)
	}
	if !ok {
		s.record(ctx, userID, action, false, client, "invalid code")
		metrics.RecordOperation(operation, metrics.StatusFailure)
		return ErrInvalidCode
	}

	claimed, err := s.store.ClaimTOTPStep(ctx, userID, step)
	if err != nil {
		return fmt.Errorf("mfa: claim step: %w", err)
	}
	if !claimed {
		s.record(ctx, userID, action, false, client, "replayed code")
		metrics.RecordOperation(operation, metrics.StatusFailure)
		return ErrInvalidCode
	}
	return nil
}

// issueTrustedDevice mints a device token and attaches it to the result.
func (s *Service) issueTrustedDevice(ctx context.Context, userID string, client ClientInfo, result *LoginResult) error {
	token, err := otp.GenerateDeviceToken()
	if err != nil {
		return fmt.Errorf("mfa: issue device token: %w", err)
	}

	expiresAt := s.now().Add(s.deviceTTL)
	metadata := DeviceMetadata{IP: client.IP, UserAgent: client.UserAgent}
	device, err := s.store.CreateTrustedDevice(ctx, userID, token.Hash, metadata, expiresAt)
	if err != nil {
		return fmt.Errorf("mfa: store trusted device: %w", err)
	}

	s.record(ctx, userID, audit.ActionTrustedDeviceIssue, true, client, "")
	result.DeviceToken = token.Plaintext
	result.DeviceExpiresAt = device.ExpiresAt
	return nil
}
