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
	"strings"
	"sync"
	"testing"
	"time"

	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-mfa/pkg/audit"
	"github.com/jeremyhahn/go-mfa/pkg/identity"
	"github.com/jeremyhahn/go-mfa/pkg/otp"
	"github.com/jeremyhahn/go-mfa/pkg/ratelimit"
	"github.com/jeremyhahn/go-mfa/pkg/storage/memory"
)

// openChecker allows every request so workflow tests are not coupled to
// the abuse-control policy.
type openChecker struct{}

func (openChecker) Check(key string, max int, window time.Duration) (bool, time.Duration) {
	return true, 0
}

// testClock is a mutable time source shared by the service and store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceEnv struct {
	service *Service
	store   *KVStore
	auditor *audit.MemoryAuditor
	clock   *testClock
}

func newServiceEnv(t *testing.T, opts ...ServiceOption) *serviceEnv {
	t.Helper()

	clock := newTestClock()
	store, err := NewKVStore(memory.New(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auditor := audit.NewMemoryAuditor()
	base := []ServiceOption{
		WithRateLimiter(openChecker{}),
		WithAuditor(auditor),
		WithServiceClock(clock.Now),
		WithIdentityProvider(identity.NewStatic(map[string]string{"alice": "hunter2"})),
	}
	service, err := NewService(store, append(base, opts...)...)
	require.NoError(t, err)

	return &serviceEnv{service: service, store: store, auditor: auditor, clock: clock}
}

// enroll walks a user through setup and returns the secret and the
// plaintext backup codes.
func (e *serviceEnv) enroll(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	info, err := e.service.BeginSetup(ctx, userID, ClientInfo{})
	require.NoError(t, err)

	codes, err := e.service.ConfirmSetup(ctx, userID, e.code(t, info.Secret), ClientInfo{})
	require.NoError(t, err)

	// Move past the activating step so the next verification is not a
	// replay.
	e.clock.Advance(otp.Period * time.Second)
	return info.Secret, codes
}

// code computes the TOTP code for the secret at the clock's current time.
func (e *serviceEnv) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, e.clock.Now(), totp.ValidateOpts{
		Period:    otp.Period,
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}

func TestService_BeginSetup(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	t.Run("returns secret and enrollment URI", func(t *testing.T) {
		info, err := env.service.BeginSetup(ctx, "alice", ClientInfo{IP: "192.0.2.1"})
		require.NoError(t, err)

		assert.NotEmpty(t, info.FactorID)
		assert.NotEmpty(t, info.Secret)
		assert.Contains(t, info.EnrollmentURI, "otpauth://totp/")
		assert.Contains(t, info.EnrollmentURI, info.Secret)
	})

	t.Run("repeat call reuses the pending secret", func(t *testing.T) {
		first, err := env.service.BeginSetup(ctx, "bob", ClientInfo{})
		require.NoError(t, err)
		second, err := env.service.BeginSetup(ctx, "bob", ClientInfo{})
		require.NoError(t, err)

		assert.Equal(t, first.FactorID, second.FactorID)
		assert.Equal(t, first.Secret, second.Secret)
		assert.Contains(t, second.EnrollmentURI, first.Secret)
	})

	t.Run("rejects an enrolled user", func(t *testing.T) {
		env.enroll(t, "carol")

		_, err := env.service.BeginSetup(ctx, "carol", ClientInfo{})
		assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	})

	t.Run("rejects unsafe user identifiers", func(t *testing.T) {
		for _, userID := range []string{"", "a/b", "a\x00b", "a\nb"} {
			_, err := env.service.BeginSetup(ctx, userID, ClientInfo{})
			assert.ErrorIs(t, err, ErrInvalidUserID)
		}
	})
}

func TestService_ConfirmSetup(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	t.Run("activates the factor and issues ten backup codes", func(t *testing.T) {
		info, err := env.service.BeginSetup(ctx, "alice", ClientInfo{})
		require.NoError(t, err)

		codes, err := env.service.ConfirmSetup(ctx, "alice", env.code(t, info.Secret), ClientInfo{})
		require.NoError(t, err)

		require.Len(t, codes, otp.BackupCodeBatchSize)
		for _, code := range codes {
			assert.True(t, otp.ValidBackupCodeFormat(code))
		}

		state, err := env.store.State(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, StateActive, state)
	})

	t.Run("replaying the activating code fails as invalid", func(t *testing.T) {
		info, err := env.service.BeginSetup(ctx, "bob", ClientInfo{})
		require.NoError(t, err)
		code := env.code(t, info.Secret)

		_, err = env.service.ConfirmSetup(ctx, "bob", code, ClientInfo{})
		require.NoError(t, err)

		_, err = env.service.ConfirmSetup(ctx, "bob", code, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("fresh code on an active factor reports already active", func(t *testing.T) {
		secret, _ := env.enroll(t, "carol")

		_, err := env.service.ConfirmSetup(ctx, "carol", env.code(t, secret), ClientInfo{})
		assert.ErrorIs(t, err, ErrAlreadyActive)
	})

	t.Run("wrong code leaves the factor pending", func(t *testing.T) {
		info, err := env.service.BeginSetup(ctx, "dave", ClientInfo{})
		require.NoError(t, err)

		wrong := env.code(t, info.Secret)
		if wrong[0] == '0' {
			wrong = "1" + wrong[1:]
		} else {
			wrong = "0" + wrong[1:]
		}
		_, err = env.service.ConfirmSetup(ctx, "dave", wrong, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)

		state, err := env.store.State(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, StatePending, state)
	})

	t.Run("no setup in progress", func(t *testing.T) {
		_, err := env.service.ConfirmSetup(ctx, "nobody", "123456", ClientInfo{})
		assert.ErrorIs(t, err, ErrNoPendingSetup)
	})

	t.Run("rejects malformed codes before any lookup", func(t *testing.T) {
		for _, code := range []string{"", "12345", "1234567", "12345a", "12 456"} {
			_, err := env.service.ConfirmSetup(ctx, "nobody", code, ClientInfo{})
			assert.ErrorIs(t, err, ErrInvalidCodeFormat)
		}
	})
}

func TestService_VerifyLogin(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	secret, _ := env.enroll(t, "alice")

	t.Run("accepts a current code", func(t *testing.T) {
		result, err := env.service.VerifyLogin(ctx, "alice", env.code(t, secret), false, ClientInfo{})
		require.NoError(t, err)
		assert.Empty(t, result.DeviceToken)
	})

	t.Run("rejects a replayed code", func(t *testing.T) {
		env.clock.Advance(otp.Period * time.Second)
		code := env.code(t, secret)

		_, err := env.service.VerifyLogin(ctx, "alice", code, false, ClientInfo{})
		require.NoError(t, err)

		_, err = env.service.VerifyLogin(ctx, "alice", code, false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("rejects a stale code", func(t *testing.T) {
		stale := env.code(t, secret)
		env.clock.Advance(3 * otp.Period * time.Second)

		_, err := env.service.VerifyLogin(ctx, "alice", stale, false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("accepts the previous step within skew", func(t *testing.T) {
		env.clock.Advance(otp.Period * time.Second)
		previous := env.code(t, secret)
		env.clock.Advance(otp.Period * time.Second)

		_, err := env.service.VerifyLogin(ctx, "alice", previous, false, ClientInfo{})
		assert.NoError(t, err)
	})

	t.Run("unenrolled user", func(t *testing.T) {
		_, err := env.service.VerifyLogin(ctx, "nobody", "123456", false, ClientInfo{})
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})

	t.Run("mints a trusted-device token on request", func(t *testing.T) {
		env.clock.Advance(otp.Period * time.Second)

		result, err := env.service.VerifyLogin(ctx, "alice", env.code(t, secret), true, ClientInfo{IP: "192.0.2.7"})
		require.NoError(t, err)

		assert.NotEmpty(t, result.DeviceToken)
		assert.Equal(t, env.clock.Now().Add(DefaultTrustedDeviceTTL), result.DeviceExpiresAt)
		assert.True(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))
	})
}

func TestService_VerifyBackupCode(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	_, codes := env.enroll(t, "alice")

	t.Run("redeems a code exactly once", func(t *testing.T) {
		result, err := env.service.VerifyBackupCode(ctx, "alice", codes[0], false, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, otp.BackupCodeBatchSize-1, result.Remaining)
		assert.False(t, result.LowCodes)

		_, err = env.service.VerifyBackupCode(ctx, "alice", codes[0], false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("accepts lowercase and hyphenated input", func(t *testing.T) {
		raw := codes[1]
		submitted := strings.ToLower(raw[:4]) + "-" + strings.ToLower(raw[4:])

		result, err := env.service.VerifyBackupCode(ctx, "alice", submitted, false, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, otp.BackupCodeBatchSize-2, result.Remaining)
	})

	t.Run("warns when inventory runs low", func(t *testing.T) {
		for i := 2; i < otp.BackupCodeBatchSize-LowBackupCodeThreshold; i++ {
			_, err := env.service.VerifyBackupCode(ctx, "alice", codes[i], false, ClientInfo{})
			require.NoError(t, err)
		}

		result, err := env.service.VerifyBackupCode(ctx, "alice",
			codes[otp.BackupCodeBatchSize-LowBackupCodeThreshold], false, ClientInfo{})
		require.NoError(t, err)
		assert.True(t, result.LowCodes)
	})

	t.Run("wrong code", func(t *testing.T) {
		_, err := env.service.VerifyBackupCode(ctx, "alice", "XXXXXXXX", false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := env.service.VerifyBackupCode(ctx, "alice", "ABC", false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCodeFormat)
	})
}

func TestService_VerifyBackupCode_ConcurrentRedemption(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	_, codes := env.enroll(t, "alice")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.VerifyBackupCode(ctx, "alice", codes[0], false, ClientInfo{})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrInvalidCode)
		}
	}
	assert.Equal(t, 1, winners)

	count, err := env.service.BackupCodeStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count.Used)
}

func TestService_RegenerateBackupCodes(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	secret, oldCodes := env.enroll(t, "alice")

	fresh, err := env.service.RegenerateBackupCodes(ctx, "alice", env.code(t, secret), ClientInfo{})
	require.NoError(t, err)
	require.Len(t, fresh, otp.BackupCodeBatchSize)

	t.Run("old batch stops verifying", func(t *testing.T) {
		_, err := env.service.VerifyBackupCode(ctx, "alice", oldCodes[0], false, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("new batch verifies", func(t *testing.T) {
		result, err := env.service.VerifyBackupCode(ctx, "alice", fresh[0], false, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, otp.BackupCodeBatchSize-1, result.Remaining)
	})

	t.Run("requires a valid code", func(t *testing.T) {
		env.clock.Advance(3 * otp.Period * time.Second)
		_, err := env.service.RegenerateBackupCodes(ctx, "alice", "000000", ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})
}

func TestService_Disable(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	secret, _ := env.enroll(t, "alice")

	t.Run("rejects a bad credential before touching the factor", func(t *testing.T) {
		err := env.service.Disable(ctx, "alice", "wrong", env.code(t, secret), ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCredential)

		state, err := env.store.State(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, StateActive, state)
	})

	t.Run("rejects a bad code even with a valid credential", func(t *testing.T) {
		err := env.service.Disable(ctx, "alice", "hunter2", "000000", ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("removes the factor, codes, and devices", func(t *testing.T) {
		result, err := env.service.VerifyLogin(ctx, "alice", env.code(t, secret), true, ClientInfo{})
		require.NoError(t, err)
		env.clock.Advance(otp.Period * time.Second)

		err = env.service.Disable(ctx, "alice", "hunter2", env.code(t, secret), ClientInfo{})
		require.NoError(t, err)

		state, err := env.store.State(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, StateAbsent, state)

		assert.False(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))

		_, err = env.service.VerifyLogin(ctx, "alice", "123456", false, ClientInfo{})
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})

	t.Run("unenrolled user", func(t *testing.T) {
		err := env.service.Disable(ctx, "bob", "hunter2", "123456", ClientInfo{})
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})
}

func TestService_TrustedDevices(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	secret, _ := env.enroll(t, "alice")

	result, err := env.service.VerifyLogin(ctx, "alice", env.code(t, secret), true,
		ClientInfo{IP: "192.0.2.1", UserAgent: "cli/1.0"})
	require.NoError(t, err)

	t.Run("consult honors a valid token", func(t *testing.T) {
		assert.True(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))
	})

	t.Run("consult fails closed", func(t *testing.T) {
		assert.False(t, env.service.ConsultTrustedDevice(ctx, "alice", ""))
		assert.False(t, env.service.ConsultTrustedDevice(ctx, "alice", "bogus-token"))
		assert.False(t, env.service.ConsultTrustedDevice(ctx, "bob", result.DeviceToken))
	})

	t.Run("list exposes metadata but never token material", func(t *testing.T) {
		devices, err := env.service.ListTrustedDevices(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "192.0.2.1", devices[0].Metadata.IP)
		assert.Equal(t, "cli/1.0", devices[0].Metadata.UserAgent)
		assert.NotEqual(t, result.DeviceToken, devices[0].TokenHash)
	})

	t.Run("revoke invalidates the token", func(t *testing.T) {
		devices, err := env.service.ListTrustedDevices(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, devices, 1)

		removed, err := env.service.RevokeTrustedDevice(ctx, "alice", devices[0].ID)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.False(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))
	})

	t.Run("expired token is not honored", func(t *testing.T) {
		env.clock.Advance(otp.Period * time.Second)
		result, err := env.service.VerifyLogin(ctx, "alice", env.code(t, secret), true, ClientInfo{})
		require.NoError(t, err)
		require.True(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))

		env.clock.Advance(DefaultTrustedDeviceTTL + time.Hour)
		assert.False(t, env.service.ConsultTrustedDevice(ctx, "alice", result.DeviceToken))
	})
}

func TestService_RateLimit(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true})
	t.Cleanup(limiter.Stop)

	clock := newTestClock()
	store, err := NewKVStore(memory.New(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auditor := audit.NewMemoryAuditor()
	service, err := NewService(store,
		WithRateLimiter(limiter),
		WithAuditor(auditor),
		WithServiceClock(clock.Now),
		WithLimits(Limits{
			SetupInitiate:    Limit{Max: 100, Window: time.Hour},
			SetupConfirm:     Limit{Max: 100, Window: time.Hour},
			VerifyLogin:      Limit{Max: 5, Window: time.Hour},
			VerifyBackupCode: Limit{Max: 5, Window: time.Hour},
			Disable:          Limit{Max: 5, Window: time.Hour},
			RegenerateCodes:  Limit{Max: 3, Window: time.Hour},
		}))
	require.NoError(t, err)

	ctx := context.Background()
	client := ClientInfo{IP: "192.0.2.99"}

	info, err := service.BeginSetup(ctx, "alice", client)
	require.NoError(t, err)
	code, err := totp.GenerateCodeCustom(info.Secret, clock.Now(), totp.ValidateOpts{
		Period:    otp.Period,
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	_, err = service.ConfirmSetup(ctx, "alice", code, client)
	require.NoError(t, err)

	t.Run("login attempts beyond the ceiling are rejected", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := service.VerifyLogin(ctx, "alice", "000000", false, client)
			assert.ErrorIs(t, err, ErrInvalidCode)
		}

		before := auditor.Count()
		_, err := service.VerifyLogin(ctx, "alice", "000000", false, client)
		assert.ErrorIs(t, err, ErrRateLimited)

		// The rejection happens before any code check, so nothing new
		// reaches the audit trail.
		assert.Equal(t, before, auditor.Count())
	})

	t.Run("limits are scoped per operation and key", func(t *testing.T) {
		_, err := service.VerifyBackupCode(ctx, "alice", "AAAAAAAA", false, client)
		assert.ErrorIs(t, err, ErrInvalidCode)

		_, err = service.VerifyLogin(ctx, "alice", "000000", false, ClientInfo{IP: "198.51.100.1"})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})
}

func TestService_AuditTrail(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	client := ClientInfo{IP: "192.0.2.1", UserAgent: "cli/1.0"}

	info, err := env.service.BeginSetup(ctx, "alice", client)
	require.NoError(t, err)
	_, err = env.service.ConfirmSetup(ctx, "alice", env.code(t, info.Secret), client)
	require.NoError(t, err)
	env.clock.Advance(otp.Period * time.Second)
	_, err = env.service.VerifyLogin(ctx, "alice", "000000", false, client)
	require.ErrorIs(t, err, ErrInvalidCode)

	events := env.auditor.Events(&audit.Query{UserID: "alice"})
	require.Len(t, events, 3)

	assert.Equal(t, audit.ActionSetupInitiate, events[0].Action)
	assert.True(t, events[0].Success)
	assert.Equal(t, "192.0.2.1", events[0].IP)

	assert.Equal(t, audit.ActionSetupConfirm, events[1].Action)
	assert.True(t, events[1].Success)

	assert.Equal(t, audit.ActionVerifyLogin, events[2].Action)
	assert.False(t, events[2].Success)
	assert.Equal(t, "invalid code", events[2].Detail)

	// Secrets and codes never appear in the trail.
	for _, event := range events {
		assert.NotContains(t, event.Detail, info.Secret)
	}

	logins := env.auditor.Events(&audit.Query{UserID: "alice", Action: audit.ActionVerifyLogin})
	require.Len(t, logins, 1)
	assert.False(t, logins[0].Success)
}
