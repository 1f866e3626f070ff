// Command execution for CLI commands.
//
// Information Hiding:
// - Settings and logger setup hidden
// - Component wiring delegated to App
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/assistant"
	"github.com/Vidura-Wijekoon/fitassist/config"
	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/metrics"
	"github.com/Vidura-Wijekoon/fitassist/mcp"
	"github.com/Vidura-Wijekoon/fitassist/model"
	"github.com/Vidura-Wijekoon/fitassist/server"
	"github.com/Vidura-Wijekoon/fitassist/tools"
)

// Options holds CLI execution options.
type Options struct {
	ConfigPath string
	Provider   string
	Verbose    bool

	// Out receives command output. Defaults to stdout.
	Out io.Writer
	// In is read by Chat. Defaults to stdin.
	In io.Reader
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) in() io.Reader {
	if o.In == nil {
		return os.Stdin
	}
	return o.In
}

// setup loads settings and builds the logger.
func setup(opts Options) (config.Settings, *zap.Logger, error) {
	settings, err := config.Load(opts.ConfigPath, opts.Provider)
	if err != nil {
		return config.Settings{}, nil, err
	}
	level := settings.Logging.Level
	if opts.Verbose {
		level = "debug"
	} else if level == "" {
		level = "warn"
	}
	log, err := logger.New(settings.Logging.Env, level)
	if err != nil {
		return config.Settings{}, nil, err
	}
	return settings, log, nil
}

// startApp wires the full assistant and makes sure an index is live.
func startApp(ctx context.Context, opts Options) (*App, error) {
	settings, log, err := setup(opts)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(ctx, settings, log)
	if err != nil {
		return nil, err
	}
	if _, err := app.Service.EnsureIndex(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("prepare index: %w", err)
	}
	return app, nil
}

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, addr string, opts Options) error {
	app, err := startApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	metrics.Register()
	if addr == "" {
		addr = app.Settings.HTTP.Addr
	}
	return server.New(app.Service, app.logger).Run(ctx, addr)
}

// Ask answers a single question.
func Ask(ctx context.Context, query, userID string, opts Options) error {
	app, err := startApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	answer, err := app.Service.SubmitQuery(ctx, userID, query)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "%s\n", answer.Response)
	if answer.IsError {
		return fmt.Errorf("query failed")
	}
	return nil
}

// Chat starts an interactive session. Every turn is recorded in the user's
// history, so later turns see earlier ones.
func Chat(ctx context.Context, userID string, opts Options) error {
	app, err := startApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	out := opts.out()
	if userID == "" {
		userID = assistant.DefaultUserID
	}
	if stats, err := app.Service.Stats(ctx, userID); err == nil && stats.TotalQueries > 0 {
		fmt.Fprintf(out, "Resuming history for '%s' (%d queries)\n\n", userID, stats.TotalQueries)
	}
	fmt.Fprintln(out, "Ask a fitness question. Type 'exit' to quit.")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(opts.in())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		answer, err := app.Service.SubmitQuery(ctx, userID, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", answer.Response)
	}

	return scanner.Err()
}

// BuildIndex loads the corpus and rebuilds the persisted index.
func BuildIndex(ctx context.Context, opts Options) error {
	settings, log, err := setup(opts)
	if err != nil {
		return err
	}
	app, err := NewIndexApp(ctx, settings, log)
	if err != nil {
		return err
	}
	defer app.Close()

	start := time.Now()
	chunks, err := app.corpusSource()(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	idx, err := app.Index.Rebuild(ctx, chunks)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "Indexed %d chunks from %d sources in %s\n",
		idx.Len(), len(settings.Corpus.Sources), time.Since(start).Round(time.Millisecond))
	return nil
}

// PrintHistory prints a user's most recent queries, newest first.
func PrintHistory(ctx context.Context, userID string, limit int, opts Options) error {
	settings, log, err := setup(opts)
	if err != nil {
		return err
	}
	app, err := NewHistoryApp(settings, log)
	if err != nil {
		return err
	}
	defer app.Close()

	records, err := app.History.Recent(ctx, userID, limit)
	if err != nil {
		return err
	}

	out := opts.out()
	if len(records) == 0 {
		fmt.Fprintf(out, "No queries recorded for '%s'\n", userID)
		return nil
	}
	for _, r := range records {
		printRecord(out, r)
	}
	return nil
}

// PrintStats prints a user's usage stats.
func PrintStats(ctx context.Context, userID string, opts Options) error {
	settings, log, err := setup(opts)
	if err != nil {
		return err
	}
	app, err := NewHistoryApp(settings, log)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.History.Stats(ctx, userID)
	if err != nil {
		return err
	}

	out := opts.out()
	fmt.Fprintf(out, "Usage for '%s':\n", userID)
	fmt.Fprintf(out, "  Total queries: %d\n", stats.TotalQueries)
	fmt.Fprintf(out, "  Avg query length: %.1f\n", stats.AvgQueryLength)
	fmt.Fprintf(out, "  Avg response length: %.1f\n", stats.AvgResponseLength)
	if stats.FirstQuery != nil {
		fmt.Fprintf(out, "  First query: %s\n", stats.FirstQuery.Format(time.RFC3339))
		fmt.Fprintf(out, "  Last query: %s\n", stats.LastQuery.Format(time.RFC3339))
	}
	return nil
}

// ServeMCP exposes the tools over MCP: stdio by default, streamable HTTP
// when httpAddr is set.
func ServeMCP(ctx context.Context, httpAddr string, opts Options) error {
	app, err := startApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := mcp.NewServer(app.Retrieval, app.Exercises, app.logger)
	if err != nil {
		return err
	}
	if httpAddr != "" {
		return srv.RunHTTP(ctx, httpAddr)
	}
	return srv.Run(ctx)
}

// ListTools prints the tools the router can call. Needs no credentials.
func ListTools(verbose bool, opts Options) {
	out := opts.out()
	fmt.Fprintln(out, "Available tools:")
	fmt.Fprintln(out)

	for _, meta := range toolMetadata() {
		fmt.Fprintf(out, "  %s\n", meta.Name)
		fmt.Fprintf(out, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(out, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(out, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(out)
	}
}

const maxPrintedResponse = 400

func printRecord(out io.Writer, r model.QueryRecord) {
	marker := ""
	if r.IsError {
		marker = " [error]"
	}
	fmt.Fprintf(out, "[%d] %s%s\n", r.Seq, r.Timestamp.Format(time.RFC3339), marker)
	fmt.Fprintf(out, "    Q: %s\n", r.Query)
	fmt.Fprintf(out, "    A: %s\n\n", truncateString(r.Response, maxPrintedResponse))
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// toolMetadata describes the router's tools without wiring their backends.
func toolMetadata() []tools.ToolMetadata {
	return []tools.ToolMetadata{
		tools.NewExerciseLookupTool(nil, nil, nil).Metadata(),
		tools.NewRetrievalTool(nil, nil, tools.RetrievalConfig{}).Metadata(),
	}
}
