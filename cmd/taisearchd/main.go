package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/taisearch/internal/cli"
	"github.com/cloo-solutions/taisearch/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "taisearchd",
		Short:         "Class resource indexing and search",
		Long:          "taisearchd ingests class resources into a hybrid vector index and serves search over them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.WorkerCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.ResourceCmd())
	rootCmd.AddCommand(admin.SearchCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if target, ok := cli.HelpJSONTarget(rootCmd, os.Args[1:]); ok {
		if err := cli.WriteSchema(os.Stdout, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
