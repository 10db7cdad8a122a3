package main

import (
	"fmt"
	"os"

	"github.com/bosun-ci/bosun/agent/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var bosunCmd = &cobra.Command{
	Use:   "bosun",
	Short: "Bosun keeps a pool of CI build workers sized to demand.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(); err != nil {
			return err
		}
		log.Debug("Bosun starting up", "version", version, "commit", commit)
		return nil
	},
}

func main() {
	bosunCmd.AddCommand(syncCmd, provisionCmd, workersCmd, destroyCmd)

	if err := bosunCmd.Execute(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
}
