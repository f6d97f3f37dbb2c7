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
	"strings"
	"time"

	"github.com/jeremyhahn/go-mfa/pkg/audit"
	"github.com/jeremyhahn/go-mfa/pkg/identity"
	"github.com/jeremyhahn/go-mfa/pkg/logging"
	"github.com/jeremyhahn/go-mfa/pkg/metrics"
	"github.com/jeremyhahn/go-mfa/pkg/otp"
	"github.com/jeremyhahn/go-mfa/pkg/ratelimit"
)

const (
	// DefaultIssuer is the issuer label placed in enrollment URIs when
	// none is configured.
	DefaultIssuer = "go-mfa"

	// DefaultTrustedDeviceTTL is how long a trusted-device token is
	// honored after issuance.
	DefaultTrustedDeviceTTL = 30 * 24 * time.Hour

	// LowBackupCodeThreshold is the remaining-code count at or below
	// which backup-code verification warns the caller to prompt for
	// regeneration.
	LowBackupCodeThreshold = 2

	maxUserIDLength = 255
)

// Limit is a rate-limit ceiling of Max requests per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Limits holds the per-operation rate-limit policy. Windows are short
// and ceilings low: these guard 6-digit and 8-character code submission
// against brute force, and regeneration is tightest of all because it
// invalidates existing recovery material.
type Limits struct {
	SetupInitiate    Limit
	SetupConfirm     Limit
	VerifyLogin      Limit
	VerifyBackupCode Limit
	Disable          Limit
	RegenerateCodes  Limit
}

// DefaultLimits returns the default abuse-control policy.
func DefaultLimits() Limits {
	return Limits{
		SetupInitiate:    Limit{Max: 5, Window: 5 * time.Minute},
		SetupConfirm:     Limit{Max: 5, Window: 5 * time.Minute},
		VerifyLogin:      Limit{Max: 5, Window: 5 * time.Minute},
		VerifyBackupCode: Limit{Max: 5, Window: 10 * time.Minute},
		Disable:          Limit{Max: 5, Window: 15 * time.Minute},
		RegenerateCodes:  Limit{Max: 3, Window: time.Hour},
	}
}

// SetupInfo is returned by BeginSetup: the secret for manual entry plus
// the otpauth:// URI for QR rendering.
type SetupInfo struct {
	// FactorID identifies the pending factor.
	FactorID string

	// Secret is the base32 secret for manual entry.
	Secret string

	// EnrollmentURI is the otpauth:// provisioning URI.
	EnrollmentURI string
}

// LoginResult is the outcome of a successful verification.
type LoginResult struct {
	// DeviceToken is the plaintext trusted-device token, present only
	// when the caller requested device trust. It is surfaced exactly
	// once; only its hash is stored.
	DeviceToken string

	// DeviceExpiresAt is when the issued token stops being honored.
	DeviceExpiresAt time.Time

	// Remaining is the number of unused backup codes after this
	// verification. Populated by backup-code verification only.
	Remaining int

	// LowCodes warns that Remaining is at or below
	// LowBackupCodeThreshold, so the caller should prompt the user to
	// regenerate. Populated by backup-code verification only.
	LowCodes bool
}

// Service orchestrates the enrollment and verification workflows. Every
// sensitive operation consults the rate limiter before performing any
// cryptographic work and appends its outcome to the audit trail.
type Service struct {
	store     Store
	limiter   ratelimit.Checker
	auditor   audit.Auditor
	idp       identity.Provider
	logger    *logging.Logger
	issuer    string
	limits    Limits
	deviceTTL time.Duration
	now       func() time.Time
}

// ServiceOption is a functional option for configuring a Service.
type ServiceOption func(*Service)

// WithRateLimiter sets the abuse-control implementation. Deployments
// spanning multiple instances should supply a Checker backed by a shared
// counter store.
func WithRateLimiter(limiter ratelimit.Checker) ServiceOption {
	return func(s *Service) { s.limiter = limiter }
}

// WithAuditor sets the audit sink.
func WithAuditor(auditor audit.Auditor) ServiceOption {
	return func(s *Service) { s.auditor = auditor }
}

// WithIdentityProvider sets the external identity provider used for
// step-up credential re-proof.
func WithIdentityProvider(idp identity.Provider) ServiceOption {
	return func(s *Service) { s.idp = idp }
}

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithIssuer sets the issuer label used in enrollment URIs.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) { s.issuer = issuer }
}

// WithLimits overrides the per-operation rate-limit policy.
func WithLimits(limits Limits) ServiceOption {
	return func(s *Service) { s.limits = limits }
}

// WithTrustedDeviceTTL overrides the trusted-device token lifetime.
func WithTrustedDeviceTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.deviceTTL = ttl }
}

// WithServiceClock overrides the service time source. Used in tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates an MFA service around the given factor store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("mfa: store cannot be nil")
	}

	service := &Service{
		store:     store,
		issuer:    DefaultIssuer,
		limits:    DefaultLimits(),
		deviceTTL: DefaultTrustedDeviceTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}

	if service.limiter == nil {
		service.limiter = ratelimit.New(&ratelimit.Config{Enabled: true})
	}
	if service.auditor == nil {
		service.auditor = audit.NewMemoryAuditor()
	}
	if service.logger == nil {
		service.logger = logging.NewLogger(false)
	}
	return service, nil
}

// BeginSetup initiates TOTP enrollment for a user. If the user already
// has an active factor it fails with ErrAlreadyEnrolled; a pending
// factor from an earlier attempt is reused so a reloaded setup page keeps
// its QR code.
func (s *Service) BeginSetup(ctx context.Context, userID string, client ClientInfo) (*SetupInfo, error) {
	defer metrics.Timer(metrics.OpSetupInitiate)()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if err := s.checkLimit(metrics.OpSetupInitiate, s.limits.SetupInitiate, userID, client); err != nil {
		return nil, err
	}

	secret, err := otp.GenerateSecret(s.issuer, userID)
	if err != nil {
		s.record(ctx, userID, audit.ActionSetupInitiate, false, client, "secret generation failed")
		metrics.RecordOperation(metrics.OpSetupInitiate, metrics.StatusFailure)
		return nil, fmt.Errorf("mfa: begin setup: %w", err)
	}

	factor, err := s.store.CreatePendingFactor(ctx, userID, secret.Base32)
	if err != nil {
		detail := "store failure"
		if errors.Is(err, ErrAlreadyEnrolled) {
			detail = "already enrolled"
		}
		s.record(ctx, userID, audit.ActionSetupInitiate, false, client, detail)
		metrics.RecordOperation(metrics.OpSetupInitiate, metrics.StatusFailure)
		return nil, err
	}

	// An existing pending factor keeps its original secret; rebuild
	// the URI from it rather than the freshly generated one.
	uri := secret.URI
	if factor.Secret != secret.Base32 {
		uri, err = otp.ProvisioningURI(factor.Secret, userID, s.issuer)
		if err != nil {
			metrics.RecordOperation(metrics.OpSetupInitiate, metrics.StatusFailure)
			return nil, fmt.Errorf("mfa: begin setup: %w", err)
		}
	}

	s.record(ctx, userID, audit.ActionSetupInitiate, true, client, "")
	metrics.RecordOperation(metrics.OpSetupInitiate, metrics.StatusSuccess)

	return &SetupInfo{
		FactorID:      factor.ID,
		Secret:        factor.Secret,
		EnrollmentURI: uri,
	}, nil
}

// ConfirmSetup verifies a 6-digit code against the user's pending factor
// and, on success, atomically activates the factor and issues a batch of
// 10 backup codes. The plaintext codes are returned exactly once; they
// can only be regenerated, never retrieved again.
func (s *Service) ConfirmSetup(ctx context.Context, userID, code string, client ClientInfo) ([]string, error) {
	defer metrics.Timer(metrics.OpSetupConfirm)()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !otp.ValidCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}
	if err := s.checkLimit(metrics.OpSetupConfirm, s.limits.SetupConfirm, userID, client); err != nil {
		return nil, err
	}

	factor, err := s.store.GetPendingFactor(ctx, userID)
	if errors.Is(err, ErrFactorNotFound) {
		return s.confirmWithoutPending(ctx, userID, code, client)
	}
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}

	ok, step, err := otp.VerifyCode(factor.Secret, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}
	if !ok {
		s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "invalid code")
		metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
		return nil, ErrInvalidCode
	}

	claimed, err := s.store.ClaimTOTPStep(ctx, userID, step)
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}
	if !claimed {
		s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "replayed code")
		metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
		return nil, ErrInvalidCode
	}

	generated, err := otp.GenerateBackupCodes(otp.BackupCodeBatchSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}

	hashes := make([]string, len(generated))
	plaintexts := make([]string, len(generated))
	for i, gc := range generated {
		hashes[i] = gc.Hash
		plaintexts[i] = gc.Plaintext
	}

	if _, err := s.store.ActivateFactorWithCodes(ctx, userID, factor.ID, hashes); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			// Lost the activation race; the winner's backup codes
			// stand.
			s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "already active")
			metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}

	s.record(ctx, userID, audit.ActionSetupConfirm, true, client, "")
	metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusSuccess)
	s.logger.Info("mfa factor activated", "user", userID)

	return plaintexts, nil
}

// confirmWithoutPending handles a confirm call when no pending factor
// exists. A user whose factor is already active gets ErrInvalidCode when
// the submitted code is a replay of the activating code, matching the
// treatment of any other replayed code, and ErrAlreadyActive otherwise.
func (s *Service) confirmWithoutPending(ctx context.Context, userID, code string, client ClientInfo) ([]string, error) {
	active, err := s.store.GetActiveFactor(ctx, userID)
	if errors.Is(err, ErrFactorNotFound) {
		s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "no pending setup")
		metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
		return nil, ErrNoPendingSetup
	}
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}

	ok, step, err := otp.VerifyCode(active.Secret, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("mfa: confirm setup: %w", err)
	}
	if ok && step <= active.LastStep {
		s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "replayed code")
		metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
		return nil, ErrInvalidCode
	}
	if !ok {
		s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "invalid code")
		metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
		return nil, ErrInvalidCode
	}

	s.record(ctx, userID, audit.ActionSetupConfirm, false, client, "already active")
	metrics.RecordOperation(metrics.OpSetupConfirm, metrics.StatusFailure)
	return nil, ErrAlreadyActive
}

// checkLimit consults the rate limiter for an operation. The limiter key
// is the client IP when present, otherwise the user identifier, so
// unauthenticated shared-IP traffic and per-account probing are both
// throttled.
func (s *Service) checkLimit(operation string, limit Limit, userID string, client ClientInfo) error {
	key := client.IP
	if key == "" {
		key = userID
	}

	allowed, retryAfter := s.limiter.Check(operation+":"+key, limit.Max, limit.Window)
	if allowed {
		return nil
	}

	s.logger.Warn("mfa rate limit exceeded",
		"operation", operation, "retry_after", retryAfter.Round(time.Second))
	metrics.RecordRateLimited(operation)
	return ErrRateLimited
}

// record appends an audit event. An audit failure is logged and never
// changes the outcome of the audited operation.
func (s *Service) record(ctx context.Context, userID string, action audit.Action, success bool, client ClientInfo, detail string) {
	event := &audit.Event{
		Timestamp: s.now().UTC(),
		UserID:    userID,
		Action:    action,
		Success:   success,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Detail:    detail,
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Errorf("audit record failed for %s: %v", action, err)
	}
}

// validateUserID rejects identifiers that are empty, oversized, or
// contain separators and control characters that could corrupt storage
// keys. Checked before any store access.
func validateUserID(userID string) error {
	if userID == "" || len(userID) > maxUserIDLength {
		return ErrInvalidUserID
	}
	if strings.ContainsAny(userID, "/\x00") {
		return ErrInvalidUserID
	}
	for _, r := range userID {
		if r < 32 || r == 127 {
			return ErrInvalidUserID
		}
	}
	return nil
}
