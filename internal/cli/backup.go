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
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backup codes",
}

var backupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backup code counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		count, err := service.BackupCodeStatus(context.Background(), userID)
		if err != nil {
			return err
		}

		fmt.Printf("Total:     %d\n", count.Total)
		fmt.Printf("Used:      %d\n", count.Used)
		fmt.Printf("Remaining: %d\n", count.Remaining)
		return nil
	},
}

var backupRegenerateCmd = &cobra.Command{
	Use:   "regenerate <code>",
	Short: "Replace all backup codes with a fresh batch",
	Long: `Verifies the 6-digit TOTP code, then invalidates every previously
issued backup code and prints a new batch of 10.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		codes, err := service.RegenerateBackupCodes(context.Background(), userID, args[0], client())
		if err != nil {
			return err
		}

		fmt.Println("New backup codes (shown once, prior codes are void):")
		for _, code := range codes {
			fmt.Printf("  %s\n", code)
		}
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupStatusCmd)
	backupCmd.AddCommand(backupRegenerateCmd)
}
