package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentrytap/sentrytap/cmd/sentryctl/pkg/client"
	"github.com/sentrytap/sentrytap/cmd/sentryctl/pkg/conf"
)

var statusCmd = &cobra.Command{
	Use:   "status [IFACES...]",
	Short: "Show capture status",
	Long: `Show capture status

If a list of interfaces is provided as arguments, only their statistics
are printed. Otherwise, all interfaces are shown.`,
	RunE: wrapCancellationContext(10*time.Second, statusEntrypoint),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusEntrypoint(ctx context.Context, cmd *cobra.Command, args []string) error {
	c := client.New(viper.GetString(conf.ServerAddr)).WithTimeout(viper.GetDuration(conf.RequestTimeout))

	statuses, startedAt, err := c.Status(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to fetch status for interfaces %v: %w", args, err)
	}

	ifaces := make([]string, 0, len(statuses))
	for iface := range statuses {
		ifaces = append(ifaces, iface)
	}
	sort.Strings(ifaces)

	fmt.Printf("started at: %s\n\n", startedAt.Local().Format(time.RFC3339))

	var totalReceived, totalDropped uint64
	for _, iface := range ifaces {
		st := statuses[iface]
		totalReceived += st.Received
		totalDropped += st.Dropped
		fmt.Printf("%-16s received=%-10d dropped=%-10d processed=%d\n", iface, st.Received, st.Dropped, st.Processed)
	}

	fmt.Printf("\n%d interfaces, %d received, %d dropped\n", len(ifaces), totalReceived, totalDropped)
	return nil
}
