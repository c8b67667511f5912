package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// meCmd prints the signed-in user
var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg, logger)
		me, err := a.profile.Me(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:    %d\n", me.UserID)
		fmt.Fprintf(out, "name:  %s\n", me.DisplayName())
		fmt.Fprintf(out, "email: %s\n", me.Email)
		return nil
	},
}
