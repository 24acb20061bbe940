// Binary sentrytapd is the passive traffic inspection daemon: it captures
// packets on the configured interfaces, classifies their flows via the
// detection worker pool, and exposes the resulting state to plugins and
// to sentryctl over the control API.
package main

import (
	"os"

	"github.com/sentrytap/sentrytap/cmd/sentrytapd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
