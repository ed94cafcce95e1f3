package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newPullCmd())
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [NICKNAME] [BRANCH...]",
		Short: "Publish local history to a remote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			eng, err := c.openEngine(cmd, args[0])
			if err != nil {
				return err
			}
			return eng.Push(cmd.Context(), args[1:])
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [NICKNAME] [BRANCH...]",
		Short: "Integrate remote history into tracking refs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			eng, err := c.openEngine(cmd, args[0])
			if err != nil {
				return err
			}
			return eng.Fetch(cmd.Context(), args[1:])
		},
	}
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge [NICKNAME] [BRANCH...]",
		Short: "Merge fetched tracking refs into local branches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			eng, err := c.openEngine(cmd, args[0])
			if err != nil {
				return err
			}
			return eng.Merge(cmd.Context(), args[1:])
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [NICKNAME] [BRANCH...]",
		Short: "Fetch then merge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCmdContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			eng, err := c.openEngine(cmd, args[0])
			if err != nil {
				return err
			}
			if err := eng.Fetch(cmd.Context(), args[1:]); err != nil {
				return err
			}
			return eng.Merge(cmd.Context(), args[1:])
		},
	}
}
