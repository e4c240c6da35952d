package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var recomputeGitHub bool

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeGitHub, "github", false, "treat the page argument as a GitHub display path")
	rootCmd.AddCommand(recomputeCmd)
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute <page> [key=value...]",
	Short: "Request a new execution of a page",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		page, err := resolvePage(cmd.Context(), args[0], recomputeGitHub)
		if err != nil {
			return errors.New(describeError(err))
		}
		if err := svc.Recompute(cmd.Context(), page, params, ""); err != nil {
			return errors.New(describeError(err))
		}
		fmt.Printf("%s %s\n", stateQueued.Render("○"), "recompute requested for "+page.Name)
		return nil
	},
}
