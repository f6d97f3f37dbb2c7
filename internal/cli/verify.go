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

var trustDevice bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify codes and trusted-device tokens",
}

var verifyCodeCmd = &cobra.Command{
	Use:   "code <code>",
	Short: "Verify a 6-digit TOTP code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := service.VerifyLogin(context.Background(), userID, args[0], trustDevice, client())
		if err != nil {
			return err
		}

		fmt.Println("Code accepted.")
		if result.DeviceToken != "" {
			fmt.Printf("Device token (shown once): %s\n", result.DeviceToken)
			fmt.Printf("Valid until:               %s\n", result.DeviceExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var verifyBackupCmd = &cobra.Command{
	Use:   "backup <code>",
	Short: "Redeem an 8-character backup code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := service.VerifyBackupCode(context.Background(), userID, args[0], trustDevice, client())
		if err != nil {
			return err
		}

		fmt.Printf("Backup code accepted. %d codes remaining.\n", result.Remaining)
		if result.LowCodes {
			fmt.Println("Warning: backup codes are running low; regenerate soon.")
		}
		if result.DeviceToken != "" {
			fmt.Printf("Device token (shown once): %s\n", result.DeviceToken)
		}
		return nil
	},
}

var verifyDeviceCmd = &cobra.Command{
	Use:   "device <token>",
	Short: "Check whether a device token skips interactive MFA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if service.ConsultTrustedDevice(context.Background(), userID, args[0]) {
			fmt.Println("Device is trusted.")
			return nil
		}
		fmt.Println("Device is not trusted.")
		return nil
	},
}

func init() {
	verifyCodeCmd.Flags().BoolVar(&trustDevice, "trust", false,
		"issue a trusted-device token on success")
	verifyBackupCmd.Flags().BoolVar(&trustDevice, "trust", false,
		"issue a trusted-device token on success")

	verifyCmd.AddCommand(verifyCodeCmd)
	verifyCmd.AddCommand(verifyBackupCmd)
	verifyCmd.AddCommand(verifyDeviceCmd)
}
