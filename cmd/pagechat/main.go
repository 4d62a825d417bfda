// Package main provides the pagechat CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/pagechat/cli"
	"github.com/richinex/pagechat/config"
	"github.com/richinex/pagechat/llm"
)

var (
	// Global flags
	dbPath  string
	verbose bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "pagechat",
		Short: "Chat with LLM backends about web pages",
		Long: `A CLI for talking to configured LLM backends (OpenAI, Anthropic, or any
OpenAI-compatible server such as Ollama or LM Studio), with optional page
context spliced into the conversation and thinking blocks separated from
the visible reply.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.pagechat/pagechat.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(connectionsCmd())
	rootCmd.AddCommand(sessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cliOptions() cli.Options {
	return cli.Options{DBPath: dbPath, Verbose: verbose}
}

func chatCmd() *cobra.Command {
	var sessionID string
	var systemPrompt string
	var contextFile string
	var noStream bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with the active connection.

Replies stream to the terminal as they arrive. Conversation history is
persisted per session and reloaded on the next run. A page context file
(JSON with url, title, selectedText, markdown) can be attached with
--context-file; its content is spliced into each request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(context.Background(), sessionID, systemPrompt, contextFile, noStream, cliOptions())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID for conversation persistence")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt preamble")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "Path to a page context JSON file")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the full reply instead of streaming")

	return cmd
}

func askCmd() *cobra.Command {
	var systemPrompt string
	var contextFile string
	var fallback bool

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a single message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ask(context.Background(), args[0], systemPrompt, contextFile, fallback, cliOptions())
		},
	}

	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt preamble")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "Path to a page context JSON file")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Try enabled connections in priority order")

	return cmd
}

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage LLM backend connections",
	}

	cmd.AddCommand(connectionsListCmd())
	cmd.AddCommand(connectionsAddCmd())
	cmd.AddCommand(connectionsUseCmd())
	cmd.AddCommand(connectionsRemoveCmd())

	return cmd
}

func connectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListConnections(context.Background(), cliOptions())
		},
	}
}

func connectionsAddCmd() *cobra.Command {
	var (
		name      string
		provider  string
		endpoint  string
		apiKey    string
		model     string
		timeoutMs int
		priority  int
		noStream  bool
	)

	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Add or update a connection",
		Long: `Add or update a connection record.

Omitted endpoint, model and API key fall back to the provider's
environment variables (OPENAI_*, ANTHROPIC_*, COMPAT_*) and stock
defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerType := llm.ParseProviderType(provider)
			conn, err := config.DefaultConnection(providerType)
			if err != nil {
				return err
			}

			conn.ID = args[0]
			conn.Name = name
			if conn.Name == "" {
				conn.Name = args[0]
			}
			if endpoint != "" {
				conn.Endpoint = endpoint
			}
			if apiKey != "" {
				conn.APIKey = apiKey
			}
			if model != "" {
				conn.Model = model
			}
			if timeoutMs > 0 {
				conn.Timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			conn.Priority = priority
			conn.Capabilities = llm.Capabilities{Streaming: !noStream, ThinkingTags: true}

			return cli.AddConnection(context.Background(), conn, cliOptions())
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to id)")
	cmd.Flags().StringVar(&provider, "provider", "openai-compatible",
		"Backend type: "+strings.Join(config.SupportedProviders(), ", "))
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Base URL of the backend")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or set the provider's env variable)")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "Request timeout in milliseconds")
	cmd.Flags().IntVar(&priority, "priority", 0, "Fallback priority (lower tries first)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Mark the connection as not supporting streaming")

	return cmd
}

func connectionsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [id]",
		Short: "Mark a connection as active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.UseConnection(context.Background(), args[0], cliOptions())
		},
	}
}

func connectionsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Delete a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RemoveConnection(context.Background(), args[0], cliOptions())
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListSessions(context.Background(), cliOptions())
		},
	}
}
