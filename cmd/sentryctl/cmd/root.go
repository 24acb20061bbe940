package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentrytap/sentrytap/cmd/sentryctl/pkg/conf"
	"github.com/sentrytap/sentrytap/pkg/logging"
)

const defaultServerAddr = "unix:/var/run/sentrytapd/control.sock"

var rootCmd = &cobra.Command{
	Use:           "sentryctl",
	Short:         "sentrytapd control CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs sentryctl's root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP(conf.ServerAddr, "s", defaultServerAddr, "control API address of the sentrytapd instance")
	rootCmd.PersistentFlags().Duration(conf.RequestTimeout, 5*time.Second, "request timeout for control API calls")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	cobra.OnInitialize(initLogger)
}

func initLogger() {
	if err := logging.Init(logging.LevelWarn, logging.EncodingLogfmt, logging.WithOutput(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

type entrypointE func(ctx context.Context, cmd *cobra.Command, args []string) error
type runE func(cmd *cobra.Command, args []string) error

// wrapCancellationContext wraps f with a context that is cancelled on
// SIGINT/SIGTERM or after timeout, whichever comes first.
func wrapCancellationContext(timeout time.Duration, f entrypointE) runE {
	return func(cmd *cobra.Command, args []string) error {
		sdCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
		defer stop()

		ctx, cancel := context.WithTimeout(sdCtx, timeout)
		defer cancel()

		return f(ctx, cmd, args)
	}
}
