package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smallsea/corncob/internal/corncob"
	"github.com/smallsea/corncob/internal/remote"
	"github.com/smallsea/corncob/internal/vcs"
)

func init() {
	rootCmd.AddCommand(newCloneCmd())
}

func newCloneCmd() *cobra.Command {
	var nickname string

	cloneCmd := &cobra.Command{
		Use:   "clone [URL] [DIR]",
		Short: "Initialize a local graph from a freshly published remote",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("%w: clone takes a URL and an optional directory", errUsage)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(viper.GetBool("debug"))

			inner, err := corncob.StripURL(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			destDir := "."
			if len(args) == 2 {
				destDir = args[1]
			}

			eng, err := vcs.NewGit()
			if err != nil {
				return err
			}
			cfg, err := corncob.LoadConfig(viper.GetString("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := corncob.OpenAdapter(cmd.Context(), inner, cfg)
			if err != nil {
				return err
			}

			if err := corncob.Clone(cmd.Context(), eng, remote.New(store), inner, destDir, nickname); err != nil {
				return err
			}
			fmt.Printf("Cloned into '%s'\n", green(destDir))
			return nil
		},
	}

	cloneCmd.Flags().StringVarP(&nickname, "origin", "o", "origin", "nickname for the new remote")
	return cloneCmd
}
