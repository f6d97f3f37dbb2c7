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

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Enroll a user in TOTP",
}

var setupInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initiate TOTP enrollment",
	Long: `Creates a pending factor for the user and prints the secret for
manual entry plus the otpauth:// URI for QR rendering. Re-running init
before confirmation returns the same secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		info, err := service.BeginSetup(context.Background(), userID, client())
		if err != nil {
			return err
		}

		fmt.Printf("Secret:         %s\n", info.Secret)
		fmt.Printf("Enrollment URI: %s\n", info.EnrollmentURI)
		fmt.Println("\nScan the URI with an authenticator app, then run:")
		fmt.Printf("  mfa setup confirm --user %s <6-digit code>\n", userID)
		return nil
	},
}

var setupConfirmCmd = &cobra.Command{
	Use:   "confirm <code>",
	Short: "Confirm enrollment with a TOTP code",
	Long: `Verifies the 6-digit code against the pending factor. On success the
factor becomes active and 10 one-time backup codes are printed. They
cannot be retrieved again; store them now.`,
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

		codes, err := service.ConfirmSetup(context.Background(), userID, args[0], client())
		if err != nil {
			return err
		}

		fmt.Println("MFA enabled. Backup codes (shown once, store them safely):")
		for _, code := range codes {
			fmt.Printf("  %s\n", code)
		}
		return nil
	},
}

func init() {
	setupCmd.AddCommand(setupInitCmd)
	setupCmd.AddCommand(setupConfirmCmd)
}
