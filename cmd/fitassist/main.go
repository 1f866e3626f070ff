// Package main provides the fitassist CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Vidura-Wijekoon/fitassist/assistant"
	"github.com/Vidura-Wijekoon/fitassist/cli"
)

var (
	// Global flags
	configPath string
	provider   string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "fitassist",
		Short: "Fitness question answering assistant",
		Long: `A fitness assistant that answers questions from a corpus of fitness articles
and looks up exercises in a live catalog.

The router picks a tool per question:
- retrieval: general fitness, health and nutrition questions
- exercise_lookup: exercises by muscle, type or difficulty`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file (defaults to environment variables)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (groq, openai, anthropic, gemini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		ConfigPath: configPath,
		Provider:   provider,
		Verbose:    verbose,
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The index is loaded from disk, or built from the corpus
when missing, before the server starts listening.

Endpoints:
- POST /api/query
- GET  /api/history/{user}
- GET  /api/history/{user}/stats
- POST /api/index/rebuild
- GET  /healthz, /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), addr, options())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func askCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ask(cmd.Context(), args[0], userID, options())
		},
	}

	cmd.Flags().StringVar(&userID, "user", assistant.DefaultUserID, "User whose history the query joins")

	return cmd
}

func chatCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), userID, options())
		},
	}

	cmd.Flags().StringVar(&userID, "user", assistant.DefaultUserID, "User whose history the session joins")

	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the vector index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Load the corpus and rebuild the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.BuildIndex(cmd.Context(), options())
		},
	})

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [user]",
		Short: "Show a user's recent queries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintHistory(cmd.Context(), args[0], limit, options())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of queries to show")

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [user]",
		Short: "Show a user's usage statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintStats(cmd.Context(), args[0], options())
		},
	}
}

func mcpCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the tools as an MCP server",
		Long: `Expose fitness_query and exercise_search over the Model Context Protocol.
Serves on stdio by default, or streamable HTTP with --http.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServeMCP(cmd.Context(), httpAddr, options())
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio")

	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the router can call",
		Run: func(cmd *cobra.Command, args []string) {
			cli.ListTools(verbose, options())
		},
	}
}
