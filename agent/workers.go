package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List the workers registered on the CI master",

	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := buildCIClient().Workers(cmd.Context())
		if err != nil {
			return err
		}

		for _, worker := range workers {
			state := color.YellowString("busy")
			if worker.Idle {
				state = color.GreenString("idle")
			}
			fmt.Printf("%s  %s\n", state, worker.Name)
		}
		fmt.Printf("%d workers\n", len(workers))
		return nil
	},
}
