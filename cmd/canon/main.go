package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "canon",
	Short: "Generate worlds, characters, cultures and technologies for fictional universes",
	Long: `canon queues content generation jobs, runs them through a Langflow flow
and stores the results as universe entities.

Run "canon start" to serve the API and workers, then use the other
commands to talk to the running server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(universeCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
