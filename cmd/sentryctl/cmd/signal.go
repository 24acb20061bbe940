package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentrytap/sentrytap/cmd/sentryctl/pkg/client"
	"github.com/sentrytap/sentrytap/cmd/sentryctl/pkg/conf"
)

var signalCmd = &cobra.Command{
	Use:   "signal NAME",
	Short: "Send an internal supervisor signal",
	Long: `Send an internal supervisor signal

NAME is one of: reload, update, update_api, netlink_io, terminate.`,
	Args: cobra.ExactArgs(1),
	RunE: wrapCancellationContext(10*time.Second, signalEntrypoint),
}

func init() {
	rootCmd.AddCommand(signalCmd)
}

func signalEntrypoint(ctx context.Context, cmd *cobra.Command, args []string) error {
	c := client.New(viper.GetString(conf.ServerAddr)).WithTimeout(viper.GetDuration(conf.RequestTimeout))

	if err := c.Signal(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to send signal %q: %w", args[0], err)
	}
	fmt.Printf("signal %q accepted\n", args[0])
	return nil
}
