// Command mcpgatewayd runs the MCP gateway daemon: it loads configuration,
// wires every component (registry, router, upstream manager, dispatcher,
// transport adapters) together, and serves the HTTP-facing transports until
// signaled to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes, mirroring the convention of distinguishing "config is wrong"
// from "something broke at runtime" for callers that script around this.
const (
	exitSuccess     = 0
	exitGeneralErr  = 1
	exitConfigError = 2
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpgatewayd",
		Short:   "MCP Gateway - a protocol-aware proxy for Model Context Protocol servers",
		Version: "v0.1.0",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateConfigCmd())
	rootCmd.AddCommand(newReloadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(classifyError(err))
	}
}

func classifyError(err error) int {
	if _, ok := err.(*configError); ok {
		return exitConfigError
	}
	return exitGeneralErr
}

// configError marks an error as a configuration problem for classifyError,
// so a calling supervisor can tell "fix your config" apart from "retry me".
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }
