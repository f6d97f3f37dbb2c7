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

var disableCredential string

var disableCmd = &cobra.Command{
	Use:   "disable <code>",
	Short: "Disable MFA for a user",
	Long: `Removes the user's active factor along with all backup codes and
trusted devices. Requires both the primary credential (checked against
the --credentials file) and a valid 6-digit TOTP code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		if credentials == "" {
			return fmt.Errorf("--credentials is required for disable")
		}
		if disableCredential == "" {
			return fmt.Errorf("--credential is required for disable")
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := service.Disable(context.Background(), userID, disableCredential, args[0], client()); err != nil {
			return err
		}

		fmt.Println("MFA disabled. Backup codes and trusted devices removed.")
		return nil
	},
}

func init() {
	disableCmd.Flags().StringVar(&disableCredential, "credential", "",
		"primary credential re-proof for the user")
}
