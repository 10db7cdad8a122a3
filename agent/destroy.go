package main

import (
	"github.com/spf13/cobra"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <private-ip>",
	Short: "Terminate the worker instance at an IP, honoring the billing window",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		inventory, _, err := buildCloudInventory(cmd.Context())
		if err != nil {
			return err
		}
		return inventory.Destroy(cmd.Context(), args[0])
	},
}
