// Blockgate - a lightweight Minecraft protocol front server.
//
// Blockgate accepts Java Edition clients speaking protocol 754, answers
// server list pings, logs players into an offline-mode Play phase, and
// exposes a REST API, Prometheus metrics, and MQTT telemetry for operators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	AppName = "Blockgate"
	Banner  = `
  ____  _            _                  _
 | __ )| | ___   ___| | ____ _  __ _| |_ ___
 |  _ \| |/ _ \ / __| |/ / _' |/ _' | __/ _ \
 | |_) | | (_) | (__|   < (_| | (_| | ||  __/
 |____/|_|\___/ \___|_|\_\__, |\__,_|\__\___|
                         |___/  v%s
 Minecraft protocol front server
`
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blockgate",
		Short: "Minecraft protocol front server",
		Long: `Blockgate speaks the Minecraft Java Edition protocol (754).

It answers server list pings, logs offline-mode players into Play,
relays chat and keep-alives, and records every session. Operators
manage it through the console, a REST API and Prometheus metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
