package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "askdb",
	Short: "Natural language SQL agent with human-approved query execution",
	Long: `askdb turns natural language questions into SQL queries, pauses for
human approval before executing anything, and answers in plain language.
It keeps per-user conversational memory so follow-up questions like
"what is her email" resolve against earlier answers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the askdb version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("askdb version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
