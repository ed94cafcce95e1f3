package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smallsea/corncob/internal/corncob"
	"github.com/smallsea/corncob/internal/vcs"
	"github.com/smallsea/corncob/internal/version"
)

// Exit codes: 0 success, 1 generic failure, 2 usage, 3 VCS engine failure.
const (
	exitFailure = 1
	exitUsage   = 2
	exitEngine  = 3
)

var errUsage = errors.New("usage error")

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "corncob",
	Short:         "CornCob sync protocol client",
	Version:       version.Detailed(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", corncob.DefaultConfigPath, "credentials config file")
	rootCmd.PersistentFlags().StringP("repo", "C", ".", "run as if started in this directory")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// flags may also come in as CORNCOB_CONFIG / CORNCOB_DEBUG / CORNCOB_REPO
	viper.SetEnvPrefix("CORNCOB")
	viper.AutomaticEnv()
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
}

// exactArgs wraps cobra's validator so bad arity exits with the usage code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	// .env is optional; used for hub and cloud endpoints in dev setups
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", red("ERROR"), err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cmdErr *vcs.CmdError
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.As(err, &cmdErr):
		return exitEngine
	default:
		return exitFailure
	}
}
