package main

import (
	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision one worker instance for the pool, outside the reconciler",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, api, err := buildCloudInventory(ctx)
		if err != nil {
			return err
		}
		poolProvisioner, err := buildPoolProvisioner(api)
		if err != nil {
			return err
		}

		return poolProvisioner.Provision(ctx)
	},
}
