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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-mfa/pkg/storage"
)

const (
	// Storage key prefixes
	factorPrefix = "mfa/factors/"
	codesPrefix  = "mfa/codes/"
	devicePrefix = "mfa/devices/"
)

// Store defines the interface for MFA factor persistence. It exclusively
// owns factors, backup codes, and trusted devices; no other component
// mutates them. All implementations must be safe for concurrent use, and
// the conditional operations (ConsumeBackupCode, ClaimTOTPStep,
// ActivateFactorWithCodes) must be atomic so concurrent callers cannot
// both succeed.
type Store interface {
	// CreatePendingFactor creates a pending factor holding secret for
	// the user. Returns ErrAlreadyEnrolled if an active factor exists.
	// If a pending factor already exists it is returned as-is, so a
	// client reloading the setup page mid-flow keeps its secret.
	CreatePendingFactor(ctx context.Context, userID, secret string) (*Factor, error)

	// State returns the user's explicit enrollment state.
	State(ctx context.Context, userID string) (FactorState, error)

	// GetPendingFactor returns the user's pending factor, or
	// ErrFactorNotFound.
	GetPendingFactor(ctx context.Context, userID string) (*Factor, error)

	// GetActiveFactor returns the user's active factor, or
	// ErrFactorNotFound.
	GetActiveFactor(ctx context.Context, userID string) (*Factor, error)

	// ActivateFactorWithCodes atomically promotes the pending factor
	// to active, stamps ActivatedAt, and stores the backup code
	// hashes. Returns ErrFactorNotFound if no pending factor with the
	// given ID exists and ErrAlreadyActive if the factor was already
	// activated. Either both the promotion and the codes are visible
	// afterwards, or neither is.
	ActivateFactorWithCodes(ctx context.Context, userID, factorID string, hashes []string) (*Factor, error)

	// DisableFactor deletes the user's active factor and cascades
	// deletion of its backup codes and trusted devices. Returns false
	// if no active factor existed.
	DisableFactor(ctx context.Context, userID string) (bool, error)

	// ReplaceBackupCodes atomically replaces all codes for a factor.
	ReplaceBackupCodes(ctx context.Context, factorID string, hashes []string) error

	// BackupCodes returns all code records for a factor in issue
	// order, used ones included.
	BackupCodes(ctx context.Context, factorID string) ([]BackupCode, error)

	// ConsumeBackupCode marks a code used. It is a conditional update:
	// of two concurrent callers redeeming the same code, exactly one
	// succeeds and the other receives ErrCodeUsed.
	ConsumeBackupCode(ctx context.Context, factorID, codeID string) error

	// CountBackupCodes summarizes a factor's code inventory.
	CountBackupCodes(ctx context.Context, factorID string) (*CodeCount, error)

	// ClaimTOTPStep advances the factor's last-consumed TOTP step.
	// Returns false when step has already been consumed, which rejects
	// a replay of the same code within its time step.
	ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error)

	// CreateTrustedDevice records a trusted device for the user.
	CreateTrustedDevice(ctx context.Context, userID, tokenHash string, metadata DeviceMetadata, expiresAt time.Time) (*TrustedDevice, error)

	// FindValidTrustedDevice reports whether a non-expired device with
	// the given token hash exists for the user. Expired records are
	// treated as absent.
	FindValidTrustedDevice(ctx context.Context, userID, tokenHash string) (bool, error)

	// ListTrustedDevices returns the user's non-expired devices and
	// purges expired ones.
	ListTrustedDevices(ctx context.Context, userID string) ([]*TrustedDevice, error)

	// RevokeTrustedDevice deletes a device record. Returns false if it
	// did not exist.
	RevokeTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error)

	// Close releases resources.
	Close() error
}

// KVStore implements Store on a storage.Backend. A single store-wide
// mutex serializes mutations, which is what makes the conditional
// read-modify-write operations atomic.
type KVStore struct {
	backend storage.Backend
	mu      sync.Mutex
	now     func() time.Time
}

// KVStoreOption is a functional option for configuring KVStore.
type KVStoreOption func(*KVStore)

// WithClock overrides the store's time source. Used in tests.
func WithClock(now func() time.Time) KVStoreOption {
	return func(s *KVStore) {
		s.now = now
	}
}

// NewKVStore creates a factor store backed by the given storage backend.
func NewKVStore(backend storage.Backend, opts ...KVStoreOption) (*KVStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("mfa: backend cannot be nil")
	}

	store := &KVStore{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// CreatePendingFactor creates a pending factor for the user, or returns
// the existing pending factor.
func (s *KVStore) CreatePendingFactor(ctx context.Context, userID, secret string) (*Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadFactor(userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case StatusActive:
			return nil, ErrAlreadyEnrolled
		case StatusPending:
			return existing, nil
		}
	}

	factor := &Factor{
		ID:        uuid.New().String(),
		UserID:    userID,
		Secret:    secret,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.saveFactor(factor); err != nil {
		return nil, err
	}
	return factor, nil
}

// State returns the user's explicit enrollment state.
func (s *KVStore) State(ctx context.Context, userID string) (FactorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, err := s.loadFactor(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, err
	}
	if factor.Status == StatusActive {
		return StateActive, nil
	}
	return StatePending, nil
}

// GetPendingFactor returns the user's pending factor.
func (s *KVStore) GetPendingFactor(ctx context.Context, userID string) (*Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factorWithStatus(userID, StatusPending)
}

// GetActiveFactor returns the user's active factor.
func (s *KVStore) GetActiveFactor(ctx context.Context, userID string) (*Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factorWithStatus(userID, StatusActive)
}

func (s *KVStore) factorWithStatus(userID string, status FactorStatus) (*Factor, error) {
	factor, err := s.loadFactor(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFactorNotFound
	}
	if err != nil {
		return nil, err
	}
	if factor.Status != status {
		return nil, ErrFactorNotFound
	}
	return factor, nil
}

// ActivateFactorWithCodes promotes a pending factor to active and stores
// its backup codes as one atomic transition. The codes are written before
// the factor flips to active: if the factor write fails the codes belong
// to a still-pending factor, which grants no login capability.
func (s *KVStore) ActivateFactorWithCodes(ctx context.Context, userID, factorID string, hashes []string) (*Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, err := s.loadFactor(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFactorNotFound
	}
	if err != nil {
		return nil, err
	}
	if factor.ID != factorID {
		return nil, ErrFactorNotFound
	}
	if factor.Status == StatusActive {
		return nil, ErrAlreadyActive
	}

	if err := s.saveCodes(factorID, newCodeRecords(hashes)); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	factor.Status = StatusActive
	factor.ActivatedAt = &now
	if err := s.saveFactor(factor); err != nil {
		return nil, err
	}
	return factor, nil
}

// DisableFactor deletes the user's active factor, its backup codes, and
// its trusted devices.
func (s *KVStore) DisableFactor(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, err := s.loadFactor(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if factor.Status != StatusActive {
		return false, nil
	}

	if err := s.backend.Delete(factorPrefix + userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("mfa: delete factor: %w", err)
	}
	if err := s.backend.Delete(codesPrefix + factor.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("mfa: delete backup codes: %w", err)
	}

	deviceKeys, err := s.backend.List(devicePrefix + userID + "/")
	if err != nil {
		return false, fmt.Errorf("mfa: list trusted devices: %w", err)
	}
	for _, key := range deviceKeys {
		if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("mfa: delete trusted device: %w", err)
		}
	}
	return true, nil
}

// ReplaceBackupCodes atomically replaces all codes for a factor. Codes
// from the previous batch stop verifying the moment the new batch is
// visible.
func (s *KVStore) ReplaceBackupCodes(ctx context.Context, factorID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCodes(factorID, newCodeRecords(hashes))
}

// BackupCodes returns all code records for a factor in issue order.
func (s *KVStore) BackupCodes(ctx context.Context, factorID string) ([]BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCodes(factorID)
}

// ConsumeBackupCode marks a code used with a conditional update.
func (s *KVStore) ConsumeBackupCode(ctx context.Context, factorID, codeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := s.loadCodes(factorID)
	if err != nil {
		return err
	}

	for i := range codes {
		if codes[i].ID != codeID {
			continue
		}
		if codes[i].Used {
			return ErrCodeUsed
		}
		now := s.now().UTC()
		codes[i].Used = true
		codes[i].UsedAt = &now
		return s.saveCodes(factorID, codes)
	}
	return ErrCodeNotFound
}

// CountBackupCodes summarizes a factor's code inventory.
func (s *KVStore) CountBackupCodes(ctx context.Context, factorID string) (*CodeCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := s.loadCodes(factorID)
	if err != nil {
		return nil, err
	}

	count := &CodeCount{Total: len(codes)}
	for _, code := range codes {
		if code.Used {
			count.Used++
		}
	}
	count.Remaining = count.Total - count.Used
	return count, nil
}

// ClaimTOTPStep advances the factor's last-consumed TOTP step. The claim
// fails when step is not strictly greater than the stored step, so a code
// replayed within its window, or any code from an older window, is
// rejected.
func (s *KVStore) ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor, err := s.loadFactor(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrFactorNotFound
	}
	if err != nil {
		return false, err
	}

	if step <= factor.LastStep {
		return false, nil
	}
	factor.LastStep = step
	if err := s.saveFactor(factor); err != nil {
		return false, err
	}
	return true, nil
}

// CreateTrustedDevice records a trusted device for the user.
func (s *KVStore) CreateTrustedDevice(ctx context.Context, userID, tokenHash string, metadata DeviceMetadata, expiresAt time.Time) (*TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device := &TrustedDevice{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}

	data, err := json.Marshal(device)
	if err != nil {
		return nil, fmt.Errorf("mfa: marshal trusted device: %w", err)
	}
	if err := s.backend.Put(s.deviceKey(userID, device.ID), data); err != nil {
		return nil, fmt.Errorf("mfa: store trusted device: %w", err)
	}
	return device, nil
}

// FindValidTrustedDevice reports whether a non-expired device with the
// given token hash exists for the user. Expired records encountered
// during the scan are purged.
func (s *KVStore) FindValidTrustedDevice(ctx context.Context, userID, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.loadDevices(userID)
	if err != nil {
		return false, err
	}

	found := false
	for _, device := range devices {
		if subtle.ConstantTimeCompare([]byte(device.TokenHash), []byte(tokenHash)) == 1 {
			found = true
		}
	}
	return found, nil
}

// ListTrustedDevices returns the user's non-expired devices and purges
// expired ones.
func (s *KVStore) ListTrustedDevices(ctx context.Context, userID string) ([]*TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDevices(userID)
}

// RevokeTrustedDevice deletes a device record.
func (s *KVStore) RevokeTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Delete(s.deviceKey(userID, deviceID))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mfa: revoke trusted device: %w", err)
	}
	return true, nil
}

// Close releases the underlying backend.
func (s *KVStore) Close() error {
	return s.backend.Close()
}

// loadDevices loads the user's device records, deleting expired ones.
// Callers must hold the store mutex.
func (s *KVStore) loadDevices(userID string) ([]*TrustedDevice, error) {
	keys, err := s.backend.List(devicePrefix + userID + "/")
	if err != nil {
		return nil, fmt.Errorf("mfa: list trusted devices: %w", err)
	}

	now := s.now()
	var devices []*TrustedDevice
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mfa: load trusted device: %w", err)
		}

		var device TrustedDevice
		if err := json.Unmarshal(data, &device); err != nil {
			return nil, fmt.Errorf("mfa: unmarshal trusted device: %w", err)
		}
		if !device.ExpiresAt.After(now) {
			if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("mfa: purge expired device: %w", err)
			}
			continue
		}
		devices = append(devices, &device)
	}
	return devices, nil
}

func (s *KVStore) deviceKey(userID, deviceID string) string {
	return devicePrefix + userID + "/" + deviceID
}

// loadFactor loads the user's factor record. Callers must hold the store
// mutex. Returns storage.ErrNotFound when no factor exists.
func (s *KVStore) loadFactor(userID string) (*Factor, error) {
	data, err := s.backend.Get(factorPrefix + userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("mfa: load factor: %w", err)
	}

	var factor Factor
	if err := json.Unmarshal(data, &factor); err != nil {
		return nil, fmt.Errorf("mfa: unmarshal factor: %w", err)
	}
	return &factor, nil
}

func (s *KVStore) saveFactor(factor *Factor) error {
	data, err := json.Marshal(factor)
	if err != nil {
		return fmt.Errorf("mfa: marshal factor: %w", err)
	}
	if err := s.backend.Put(factorPrefix+factor.UserID, data); err != nil {
		return fmt.Errorf("mfa: store factor: %w", err)
	}
	return nil
}

func (s *KVStore) loadCodes(factorID string) ([]BackupCode, error) {
	data, err := s.backend.Get(codesPrefix + factorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("mfa: load backup codes: %w", err)
	}

	var codes []BackupCode
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, fmt.Errorf("mfa: unmarshal backup codes: %w", err)
	}
	return codes, nil
}

func (s *KVStore) saveCodes(factorID string, codes []BackupCode) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("mfa: marshal backup codes: %w", err)
	}
	if err := s.backend.Put(codesPrefix+factorID, data); err != nil {
		return fmt.Errorf("mfa: store backup codes: %w", err)
	}
	return nil
}

func newCodeRecords(hashes []string) []BackupCode {
	codes := make([]BackupCode, len(hashes))
	for i, hash := range hashes {
		codes[i] = BackupCode{
			ID:   uuid.New().String(),
			Hash: hash,
		}
	}
	return codes
}
