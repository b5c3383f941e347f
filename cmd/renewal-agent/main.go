package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "renewal-agent",
	Short: "Retrieval-augmented support agent for website renewals",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; the environment may be set directly.
		_ = godotenv.Load()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, initDBCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
