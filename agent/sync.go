package main

import (
	"fmt"
	"time"

	"github.com/bosun-ci/bosun/agent/flags"
	"github.com/bosun-ci/bosun/agent/log"
	"github.com/bosun-ci/bosun/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle (or loop with --sync-interval)",

	RunE: func(cmd *cobra.Command, args []string) error {
		poolName := viper.GetString(flags.Pool)
		if poolName == "" {
			return fmt.Errorf("a pool name is required")
		}

		interval := viper.GetDuration(flags.SyncInterval)
		if interval == 0 {
			return runCycle(cmd, poolName)
		}

		// Loop mode for environments without an external scheduler. Each
		// tick builds a fresh cycle, so statelessness is preserved.
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := runCycle(cmd, poolName); err != nil {
				log.Error("Reconciliation cycle failed", "error", err)
			}
			select {
			case <-ticker.C:
			case <-cmd.Context().Done():
				return nil
			}
		}
	},
}

// runCycle wires fresh accessors and runs one Sync pass. Fresh accessors
// per cycle mean fresh caches, which the settle gate depends on.
func runCycle(cmd *cobra.Command, poolName string) error {
	ctx := cmd.Context()

	inventory, api, err := buildCloudInventory(ctx)
	if err != nil {
		return err
	}
	ciClient := buildCIClient()
	poolProvisioner, err := buildPoolProvisioner(api)
	if err != nil {
		return err
	}

	reconciler := pool.NewReconciler(poolName, inventory, ciClient, poolProvisioner, log.Base)
	return reconciler.Sync(ctx)
}
