package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagVerbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "rexq",
	Short:         "Hierarchical query server and tools",
	Long:          "rexq resolves compact hierarchical queries against resolvers, links to remote rexq executors over gRPC and batches their requests.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log every resolved query")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(graphqlCmd)
	rootCmd.AddCommand(callCmd)
}
