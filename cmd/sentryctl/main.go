// Binary sentryctl is the control CLI for sentrytapd: it queries
// interface status and active flows, and sends internal supervisor
// signals, all over the daemon's control API.
package main

import (
	"fmt"
	"os"

	"github.com/sentrytap/sentrytap/cmd/sentryctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
