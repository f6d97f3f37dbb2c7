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

// Package cli implements the mfa command-line tool, an operator surface
// over the enrollment and verification workflows. It drives the same
// service layer an embedding application would, against the storage
// backend named in the configuration file.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	storageDir  string
	userID      string
	clientIP    string
	credentials string
	debug       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mfa",
	Short: "go-mfa CLI - TOTP enrollment, backup codes, and trusted devices",
	Long: `go-mfa CLI operates the multi-factor authentication subsystem:
TOTP factor enrollment and verification, one-time backup codes, and
trusted-device tokens, with per-operation rate limiting and audit
logging.

State is persisted in the storage backend named by the configuration
file (or the --storage-dir override, which selects the file backend).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is built-in defaults with file storage under --storage-dir)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", defaultStorageDir(),
		"directory for file-based factor storage")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "",
		"account identifier the operation applies to")
	rootCmd.PersistentFlags().StringVar(&clientIP, "ip", "",
		"source IP to attribute the operation to (rate limiting and audit)")
	rootCmd.PersistentFlags().StringVar(&credentials, "credentials", "",
		"file of user:credential lines for the static identity provider")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false,
		"verbose output")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(versionCmd)
}
