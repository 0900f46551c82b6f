// mcp-canvas brokers MCP client access to the Canvas LMS API: an OAuth
// approval flow captures per-user Canvas credentials, stores them
// encrypted, and exposes typed Canvas operations as MCP tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is injected at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "mcp-canvas",
	Short:        "Canvas LMS MCP broker",
	Long:         "mcp-canvas runs an MCP server exposing Canvas LMS operations,\nfronted by an OAuth approval flow that captures and encrypts each\nuser's Canvas API credentials.",
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "mcp-canvas version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
