package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumenfeed/lumenfeed/internal/cli"
	"github.com/lumenfeed/lumenfeed/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lumenfeedd",
		Short: "Lumenfeed daemon and CLI",
		Long:  "Lumenfeed daemon for running the feedback analysis pipeline and administering its queues",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.RetentionCmd())
	rootCmd.AddCommand(admin.JobsCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
