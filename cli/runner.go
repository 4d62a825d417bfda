// Command execution for CLI commands.
//
// Information Hiding:
// - Orchestrator and storage setup hidden
// - Event subscription and terminal rendering hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/richinex/pagechat/config"
	"github.com/richinex/pagechat/llm"
	"github.com/richinex/pagechat/orchestrator"
	"github.com/richinex/pagechat/storage"
)

// Options holds CLI execution options.
type Options struct {
	DBPath  string
	Verbose bool
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{Verbose: false}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(opts Options) (*storage.SqliteStorage, config.Settings, error) {
	settings, err := config.New()
	if err != nil {
		return nil, config.Settings{}, err
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = settings.Storage.DatabasePath
	}
	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return nil, config.Settings{}, fmt.Errorf("failed to open database: %w", err)
	}
	return store, settings, nil
}

// applyRequestDefaults copies the environment-configured request shaping
// onto a send, so LLM_MAX_TOKENS and LLM_TEMPERATURE reach the wire.
func applyRequestDefaults(sendOpts *orchestrator.SendOptions, llmCfg config.LLMConfig) {
	sendOpts.MaxTokens = int(llmCfg.MaxTokens)
	temperature := llmCfg.Temperature
	sendOpts.Temperature = &temperature
}

// connectionDefaults fills connection fields the caller left unset from
// the environment settings.
func connectionDefaults(conn llm.Connection, llmCfg config.LLMConfig) llm.Connection {
	if conn.Timeout == 0 {
		conn.Timeout = llmCfg.Timeout
	}
	return conn
}

// missingKeyHint names the credential a connection will need but does not
// have, or returns "" when the connection can dispatch as is.
func missingKeyHint(conn llm.Connection) string {
	if conn.APIKey != "" || conn.Type == llm.ProviderOpenAICompatible || conn.IsLocalEndpoint() {
		return ""
	}
	if _, err := config.APIKeyFor(conn.Type); err != nil {
		return err.Error()
	}
	return ""
}

// restoredPage rebuilds page context from a stored snapshot so a resumed
// session keeps the page it was about.
func restoredPage(snap storage.ContextSnapshot) *orchestrator.PageContext {
	return &orchestrator.PageContext{URL: snap.URL, Title: snap.Title, Markdown: snap.Content}
}

// pageContextFile is the on-disk shape accepted by --context-file.
type pageContextFile struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	SelectedText  string `json:"selectedText"`
	Markdown      string `json:"markdown"`
	PluginContent string `json:"pluginContent"`
}

func loadPageContext(path string) (*orchestrator.PageContext, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}
	var pc pageContextFile
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	return &orchestrator.PageContext{
		URL:           pc.URL,
		Title:         pc.Title,
		SelectedText:  pc.SelectedText,
		Markdown:      pc.Markdown,
		PluginContent: pc.PluginContent,
	}, nil
}

// Chat starts an interactive chat session against the active connection.
func Chat(ctx context.Context, sessionID, systemPrompt, contextFile string, noStream bool, opts Options) error {
	store, settings, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	page, err := loadPageContext(contextFile)
	if err != nil {
		return err
	}

	logger := newLogger(opts.Verbose)
	orch := orchestrator.New(store, orchestrator.WithLogger(logger))

	session := sessionID
	if session == "" {
		session = "default"
	}

	history, err := store.Load(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) > 0 {
		fmt.Printf("Resuming session '%s' (%d messages)\n\n", session, len(history))
	}

	if page != nil {
		snap := storage.ContextSnapshot{URL: page.URL, Title: page.Title, Content: page.Markdown}
		if _, err := store.SaveSnapshot(ctx, session, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save context snapshot: %v\n", err)
		}
	} else if len(history) > 0 {
		// Resumed session without a fresh context file: fall back to the
		// page the session was last about.
		if snap, err := store.LatestSnapshot(ctx, session); err == nil {
			page = restoredPage(snap)
			fmt.Printf("Restored page context: %s\n\n", snap.URL)
		}
	}

	conn, err := store.ActiveConnection(ctx)
	if err != nil {
		return fmt.Errorf("no active connection: use 'pagechat connections use <id>' first: %w", err)
	}
	fmt.Printf("Chatting with %s (%s). Type 'exit' to quit.\n\n", conn.Name, conn.Model)

	// Streaming output goes straight to the terminal as chunks arrive;
	// done/errCh signal turn completion.
	done := make(chan string, 1)
	errCh := make(chan error, 1)
	orch.On(orchestrator.EventStreamChunk, func(ev orchestrator.Event) {
		fmt.Print(ev.Content)
		for _, block := range ev.Blocks {
			if opts.Verbose {
				fmt.Printf("\n[%s] %s\n", block.Type, block.Content)
			}
		}
	})
	orch.On(orchestrator.EventStreamEnd, func(ev orchestrator.Event) {
		done <- ev.FullContent
	})
	orch.On(orchestrator.EventStreamError, func(ev orchestrator.Event) {
		errCh <- ev.Err
	})

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
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

		sendOpts := orchestrator.DefaultSendOptions()
		sendOpts.Streaming = !noStream
		sendOpts.SystemMessage = systemPrompt
		sendOpts.History = history
		applyRequestDefaults(&sendOpts, settings.LLM)

		result, err := orch.SendMessage(ctx, input, page, sendOpts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
			continue
		}

		var reply string
		if result.Type == "streaming" {
			select {
			case reply = <-done:
				fmt.Printf("\n\n")
			case err := <-errCh:
				fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
				continue
			case <-ctx.Done():
				orch.CancelRequest(result.RequestID)
				return ctx.Err()
			}
		} else {
			reply = result.Content
			fmt.Printf("\n%s\n\n", reply)
			if opts.Verbose {
				for _, block := range result.Blocks {
					fmt.Printf("[%s] %s\n", block.Type, block.Content)
				}
			}
		}

		history = append(history,
			llm.UserMessage(input),
			llm.AssistantMessage(reply),
		)
		if err := store.Save(ctx, session, history); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save history: %v\n", err)
		}
	}

	return scanner.Err()
}

// Ask sends a single message and prints the reply.
func Ask(ctx context.Context, text, systemPrompt, contextFile string, fallback bool, opts Options) error {
	store, settings, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	page, err := loadPageContext(contextFile)
	if err != nil {
		return err
	}

	logger := newLogger(opts.Verbose)
	orch := orchestrator.New(store, orchestrator.WithLogger(logger))

	sendOpts := orchestrator.DefaultSendOptions()
	sendOpts.Streaming = false
	sendOpts.SystemMessage = systemPrompt
	applyRequestDefaults(&sendOpts, settings.LLM)

	var result orchestrator.SendResult
	if fallback {
		result, err = orch.SendWithFallback(ctx, text, page, sendOpts)
	} else {
		result, err = orch.SendMessage(ctx, text, page, sendOpts)
	}
	if err != nil {
		return err
	}

	fmt.Println(result.Content)
	if opts.Verbose {
		for _, block := range result.Blocks {
			fmt.Printf("\n[%s] %s\n", block.Type, block.Content)
		}
		if result.Usage != nil {
			fmt.Printf("\nTokens: %d prompt, %d completion\n",
				result.Usage.PromptTokens, result.Usage.CompletionTokens)
		}
	}
	return nil
}

// AddConnection stores a connection record and makes it active when it is
// the first one.
func AddConnection(ctx context.Context, conn llm.Connection, opts Options) error {
	store, settings, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	existing, err := store.ListConnections(ctx)
	if err != nil {
		return err
	}

	conn = connectionDefaults(conn, settings.LLM)
	if err := store.SaveConnection(ctx, conn); err != nil {
		return err
	}
	fmt.Printf("Saved connection '%s' (%s, model %s)\n", conn.ID, conn.Type, conn.Model)
	if hint := missingKeyHint(conn); hint != "" {
		fmt.Fprintf(os.Stderr, "Warning: no API key configured: %s\n", hint)
	}

	if len(existing) == 0 {
		if err := store.SetActive(ctx, conn.ID); err != nil {
			return err
		}
		fmt.Printf("Set '%s' as active connection\n", conn.ID)
	}
	return nil
}

// ListConnections prints all stored connections.
func ListConnections(ctx context.Context, opts Options) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	conns, err := store.ListConnections(ctx)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Println("No connections configured. Add one with 'pagechat connections add'.")
		return nil
	}

	active, err := store.ActiveConnection(ctx)
	activeID := ""
	if err == nil {
		activeID = active.ID
	}

	for _, conn := range conns {
		marker := " "
		if conn.ID == activeID {
			marker = "*"
		}
		state := "enabled"
		if !conn.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s %-20s %-18s %-30s %s (priority %d, %s)\n",
			marker, conn.ID, conn.Type, conn.Endpoint, conn.Model, conn.Priority, state)
	}
	return nil
}

// UseConnection marks a connection active.
func UseConnection(ctx context.Context, id string, opts Options) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetActive(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Active connection: %s\n", id)
	return nil
}

// RemoveConnection deletes a connection record.
func RemoveConnection(ctx context.Context, id string, opts Options) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Removed connection: %s\n", id)
	return nil
}

// ListSessions prints stored transcript sessions.
func ListSessions(ctx context.Context, opts Options) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Println(s)
	}
	return nil
}
