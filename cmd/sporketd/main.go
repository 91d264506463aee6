package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔═╗┌─┐┌─┐┬─┐┬┌─┌─┐┌┬┐
  ╚═╗├─┤│ │├┬┘├┴┐├┤  │
  ╚═╝┴ ┴└─┘┴└─┴ ┴└─┘ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "sporketd",
		Short: "An authenticated WebSocket message bus",
		Long: `sporketd runs a Sporket server: a single WebSocket endpoint that
authenticates every connection with a challenge/response handshake and
lets you broadcast or target signed messages to connected clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Print(banner)
}

func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
