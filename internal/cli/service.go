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

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-mfa/internal/config"
	"github.com/jeremyhahn/go-mfa/pkg/identity"
	"github.com/jeremyhahn/go-mfa/pkg/logging"
	"github.com/jeremyhahn/go-mfa/pkg/mfa"
	"github.com/jeremyhahn/go-mfa/pkg/ratelimit"
	"github.com/jeremyhahn/go-mfa/pkg/storage"
	"github.com/jeremyhahn/go-mfa/pkg/storage/file"
	"github.com/jeremyhahn/go-mfa/pkg/storage/memory"
)

// defaultStorageDir returns the default file-backend root.
func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".go-mfa"
	}
	return filepath.Join(home, ".go-mfa")
}

// loadConfig resolves the effective configuration from the --config file
// or the built-in defaults with the --storage-dir file backend.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = storageDir
	cfg.Logging.Debug = debug
	return cfg, nil
}

// newService builds the MFA service and its collaborators from the
// effective configuration.
func newService() (*mfa.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var backend storage.Backend
	switch cfg.Storage.Backend {
	case "file":
		backend, err = file.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
	case "memory":
		backend = memory.New()
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	store, err := mfa.NewKVStore(backend)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	limiter := ratelimit.New(&ratelimit.Config{Enabled: cfg.RateLimit.Enabled})

	opts := []mfa.ServiceOption{
		mfa.WithIssuer(cfg.Issuer),
		mfa.WithLogger(logging.NewLogger(cfg.Logging.Debug || debug)),
		mfa.WithRateLimiter(limiter),
		mfa.WithTrustedDeviceTTL(cfg.Devices.TTL),
		mfa.WithLimits(mfa.Limits{
			SetupInitiate:    limit(cfg.RateLimit.SetupInitiate),
			SetupConfirm:     limit(cfg.RateLimit.SetupConfirm),
			VerifyLogin:      limit(cfg.RateLimit.VerifyLogin),
			VerifyBackupCode: limit(cfg.RateLimit.VerifyBackupCode),
			Disable:          limit(cfg.RateLimit.Disable),
			RegenerateCodes:  limit(cfg.RateLimit.RegenerateCodes),
		}),
	}

	if credentials != "" {
		idp, err := loadStaticIdentity(credentials)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts = append(opts, mfa.WithIdentityProvider(idp))
	}

	service, err := mfa.NewService(store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		limiter.Stop()
		_ = store.Close()
	}
	return service, cleanup, nil
}

func limit(lc config.LimitConfig) mfa.Limit {
	return mfa.Limit{Max: lc.Max, Window: lc.Window}
}

// loadStaticIdentity reads user:credential lines into a static identity
// provider. Blank lines and #-comments are ignored.
func loadStaticIdentity(path string) (identity.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	table := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, cred, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed credentials line %q", line)
		}
		table[user] = cred
	}
	return identity.NewStatic(table), nil
}

// client returns the ClientInfo for the current invocation.
func client() mfa.ClientInfo {
	return mfa.ClientInfo{IP: clientIP, UserAgent: "go-mfa-cli"}
}

// requireUser validates that --user was supplied.
func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
