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

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage trusted devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List non-expired trusted devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		service, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		devices, err := service.ListTrustedDevices(context.Background(), userID)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No trusted devices.")
			return nil
		}

		for _, device := range devices {
			fmt.Printf("%s\n", device.ID)
			if device.Metadata.Label != "" {
				fmt.Printf("  label:      %s\n", device.Metadata.Label)
			}
			if device.Metadata.IP != "" {
				fmt.Printf("  ip:         %s\n", device.Metadata.IP)
			}
			fmt.Printf("  created at: %s\n", device.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("  expires at: %s\n", device.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Revoke a trusted device",
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

		removed, err := service.RevokeTrustedDevice(context.Background(), userID, args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no trusted device %q for user %q", args[0], userID)
		}

		fmt.Println("Device revoked.")
		return nil
	},
}

func init() {
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRevokeCmd)
}
