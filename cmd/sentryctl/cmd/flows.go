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

var flowsFilter string

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Print flows that are currently active",
	Long: `Print flows that are currently active

The --filter flag accepts a boolean predicate expression, e.g.
"proto==tcp && port==443" or "app==tls || app==http".`,
	RunE: wrapCancellationContext(10*time.Second, flowsEntrypoint),
}

func init() {
	flowsCmd.Flags().StringVar(&flowsFilter, "filter", "", "flowfilter expression to narrow the listing")
	rootCmd.AddCommand(flowsCmd)
}

func flowsEntrypoint(ctx context.Context, cmd *cobra.Command, args []string) error {
	c := client.New(viper.GetString(conf.ServerAddr)).WithTimeout(viper.GetDuration(conf.RequestTimeout))

	flows, err := c.Flows(ctx, flowsFilter)
	if err != nil {
		return fmt.Errorf("failed to query flows: %w", err)
	}

	fmt.Printf("%d flows\n\n", len(flows))
	for _, f := range flows {
		fmt.Printf("%-10s %-21s %-21s proto=%-4d app=%-10s host=%s\n",
			f.Iface,
			fmt.Sprintf("%s:%d", f.LowerIP, f.LowerPort),
			fmt.Sprintf("%s:%d", f.UpperIP, f.UpperPort),
			f.IPProto, f.Application, f.Host,
		)
	}
	return nil
}
