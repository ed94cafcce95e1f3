package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smallsea/corncob/internal/corncob"
)

func init() {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage CornCob remotes",
	}
	remoteCmd.AddCommand(newRemoteAddCmd())
	remoteCmd.AddCommand(newRemoteRemoveCmd())
	rootCmd.AddCommand(remoteCmd)
}

func newRemoteAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [NICKNAME] [URL]",
		Short: "Register a CornCob remote",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nickname, url := args[0], args[1]

			inner, err := corncob.StripURL(url)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}

			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := corncob.AddRemote(cmd.Context(), c.engine, c.repoDir, nickname, inner, c.store); err != nil {
				return err
			}
			fmt.Printf("Added remote '%s' (%s)\n", cyan(nickname), green(inner))
			return nil
		},
	}
}

func newRemoteRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove [NICKNAME]",
		Aliases: []string{"rm"},
		Short:   "Remove a CornCob remote",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := corncob.RemoveRemote(cmd.Context(), c.engine, c.repoDir, args[0], c.store); err != nil {
				return err
			}
			fmt.Printf("Removed remote '%s'\n", cyan(args[0]))
			return nil
		},
	}
}
