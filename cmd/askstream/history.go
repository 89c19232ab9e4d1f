package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, release, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if err := ctl.Hydrate(cmd.Context(), args[0]); err != nil {
				return err
			}
			printTurns(cmd.OutOrStdout(), ctl.Store().Turns())
			return nil
		},
	}
}
