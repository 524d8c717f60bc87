package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voceria/kbpipeline/internal/cli"
	"github.com/voceria/kbpipeline/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voceriad",
		Short: "Voceria knowledge base pipeline daemon",
		Long:  "Voceria daemon for running the ingestion API, background pipeline workers and database migrations",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.EnqueueCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
