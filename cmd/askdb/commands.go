package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/askdb/internal/config"
)

// queryResult covers both immediate answers and approval-pending replies.
type queryResult struct {
	Question         string `json:"question"`
	ResolvedQuestion string `json:"resolved_question"`
	Query            string `json:"query"`
	Result           string `json:"result"`
	Answer           string `json:"answer"`
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	Message          string `json:"message"`
	Checkpoint       string `json:"checkpoint"`
}

func printQueryResult(r queryResult) {
	if !r.Success {
		printError("%s", r.Answer)
		return
	}

	if r.Checkpoint != "" {
		fmt.Printf("%s %s\n", colorize(colorBold, "Proposed query:"), r.Query)
		if r.ResolvedQuestion != "" && r.ResolvedQuestion != r.Question {
			fmt.Printf("%s %s\n", colorize(colorBold, "Resolved as:"), r.ResolvedQuestion)
		}
		fmt.Printf("\n%s\n", r.Message)
		fmt.Printf("\n%s\n%s\n", colorize(colorCyan, "Checkpoint:"), r.Checkpoint)
		fmt.Printf("\nApprove with:    askdb approve <checkpoint>\n")
		fmt.Printf("Regenerate with: askdb regenerate <checkpoint> --feedback \"...\"\n")
		return
	}

	fmt.Println(r.Answer)
	if r.Query != "" {
		fmt.Printf("\n%s %s\n", colorize(colorCyan, "Query:"), r.Query)
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a natural language question",
	Long: `Ask a natural language question.

Chat questions are answered immediately. Data questions return a proposed
SQL query and a checkpoint; nothing runs until the checkpoint is approved.

Examples:
  askdb ask "who is the top student"
  askdb ask --user bob "what is her email"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("user")
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]string{
			"username": username,
			"question": question,
		})
		if err != nil {
			return err
		}

		var result queryResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printQueryResult(result)
		return nil
	},
}

// --- approve ---

var approveCmd = &cobra.Command{
	Use:   "approve <checkpoint>",
	Short: "Approve and execute a pending query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query/approve", map[string]string{
			"checkpoint": args[0],
			"feedback":   feedback,
		})
		if err != nil {
			return err
		}

		var result queryResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printQueryResult(result)
		return nil
	},
}

// --- regenerate ---

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <checkpoint>",
	Short: "Regenerate a pending query with feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		if strings.TrimSpace(feedback) == "" {
			return fmt.Errorf("--feedback is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query/regenerate", map[string]string{
			"checkpoint": args[0],
			"feedback":   feedback,
		})
		if err != nil {
			return err
		}

		var result queryResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printQueryResult(result)
		return nil
	},
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or clear conversation memory",
}

func newMemoryCommand(use, short, slash string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("user")

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.post(cmd.Context(), "/memory/command", map[string]string{
				"username": username,
				"command":  slash,
			})
			if err != nil {
				return err
			}

			var result struct {
				Success bool            `json:"success"`
				Message string          `json:"message"`
				Data    json.RawMessage `json:"data"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if !result.Success {
				printError("%s", result.Message)
				return nil
			}

			if len(result.Data) > 0 {
				var pretty any
				if err := json.Unmarshal(result.Data, &pretty); err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(pretty)
			}
			printSuccess("%s", result.Message)
			return nil
		},
	}
	cmd.Flags().String("user", "default", "username whose memory to operate on")
	return cmd
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear conversation memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/memory/"+url.PathEscape(username))
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	memoryClearCmd.Flags().String("user", "default", "username whose memory to operate on")

	memoryCmd.AddCommand(newMemoryCommand("history", "Show conversation history", "/history"))
	memoryCmd.AddCommand(newMemoryCommand("summary", "Show a conversation summary", "/summary"))
	memoryCmd.AddCommand(newMemoryCommand("entities", "List known entities", "/entities"))
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.AddCommand(newMemoryCommand("users", "List users with recorded memory", "/users"))
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/schema")
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
			RawInfo string `json:"raw_info"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.RawInfo)
		printStep("%s", result.Message)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "default", "username whose conversation memory to use")
	approveCmd.Flags().String("feedback", "", "feedback carried into answer synthesis")
	regenerateCmd.Flags().String("feedback", "", "what to change about the query (required)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
