package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/esiebomaj/commander/internal/actions"
	"github.com/esiebomaj/commander/internal/api"
	"github.com/esiebomaj/commander/internal/config"
	"github.com/esiebomaj/commander/internal/decision"
	"github.com/esiebomaj/commander/internal/engine"
	"github.com/esiebomaj/commander/internal/history"
	"github.com/esiebomaj/commander/internal/ollama"
	"github.com/esiebomaj/commander/internal/pipeline"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the commander server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running commander server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show commander system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "commander.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func chatModel(cfg config.Config) string {
	if cfg.Engine.Provider == engine.ProviderOpenAI {
		return cfg.OpenAI.ChatModel
	}
	return cfg.Ollama.ChatModel
}

func embedModel(cfg config.Config) string {
	if cfg.Engine.Provider == engine.ProviderOpenAI {
		return cfg.OpenAI.EmbedModel
	}
	return cfg.Ollama.EmbedModel
}

// openIndex returns the configured vector backend wrapped with the
// per-operation timeout.
func openIndex(cfg config.Config, store *storage.Store) (retrieval.VectorIndex, error) {
	var idx retrieval.VectorIndex
	switch cfg.Vector.Backend {
	case "chromem":
		c, err := retrieval.NewChromemIndex(filepath.Join(cfg.Storage.DataDir, "vectors"))
		if err != nil {
			return nil, fmt.Errorf("opening chromem index: %w", err)
		}
		idx = c
	default:
		idx = retrieval.NewSQLiteIndex(store.DB())
	}
	return retrieval.WithTimeout(idx, cfg.Vector.Timeout), nil
}

func newReasoner(cfg config.Config, eng engine.Engine) decision.Reasoner {
	if cfg.Decision.Reasoner == "anthropic" {
		return decision.NewAnthropicReasoner(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	}
	return decision.NewEngineReasoner(eng, chatModel(cfg))
}

// newExecutor routes every action type to the configured executor service.
// Without one, approved actions are recorded as todos in the data dir.
func newExecutor(cfg config.Config, apiToken string) *actions.Registry {
	reg := actions.NewRegistry()
	reg.Register(actions.NoopExecutor{}, storage.ActionNoAction)

	external := []storage.ActionType{storage.ActionSendEmail, storage.ActionCreateDraft, storage.ActionScheduleMeeting, storage.ActionCreateTodo}
	if cfg.Actions.ExecutorURL != "" {
		reg.Register(actions.NewWebhookExecutor(cfg.Actions.ExecutorURL, apiToken), external...)
		return reg
	}
	reg.Register(actions.NewLocalExecutor(filepath.Join(cfg.Storage.DataDir, "outbox")), external...)
	return reg
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "commander version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("commander is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("commander is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Engine.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		Dimensions:    cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, chatModel(cfg), embedModel(cfg), os.Stderr); err != nil {
		// Contexts are still stored and queued; processing resumes once the
		// engine is back.
		slog.Warn("inference engine not ready, processing will retry", "error", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if versions, err := store.AppliedMigrations(ctx); err == nil && len(versions) > 0 {
		slog.Info("storage ready", "dir", cfg.Storage.DataDir, "schema_version", versions[len(versions)-1])
	}

	cache, err := retrieval.NewCache(int64(cfg.Embedding.CacheItems))
	if err != nil {
		return fmt.Errorf("creating embedding cache: %w", err)
	}
	defer cache.Close()

	embedder := retrieval.NewEmbedder(eng, retrieval.EmbedderConfig{
		Model:      embedModel(cfg),
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		Timeout:    cfg.Embedding.Timeout,
		Cache:      cache,
		Logger:     logger,
	})
	index, err := openIndex(cfg, store)
	if err != nil {
		return err
	}

	mergeOrder, err := history.ParseMergeOrder(cfg.Decision.MergeOrder)
	if err != nil {
		return fmt.Errorf("decision.merge_order: %w", err)
	}
	assembler := history.NewAssembler(store, index, embedder,
		history.WithMergeOrder(mergeOrder), history.WithLogger(logger))

	decider := decision.NewEngine(newReasoner(cfg, eng), decision.Config{
		Timeout: cfg.Decision.Timeout,
		Logger:  logger,
	})

	hub := api.NewHub(logger)
	defer hub.Close()
	notifiers := actions.MultiNotifier{actions.LogNotifier{Logger: logger}, hub}
	if cfg.Actions.NotifyURL != "" {
		notifiers = append(notifiers, actions.NewWebhookNotifier(cfg.Actions.NotifyURL))
	}
	lifecycle := actions.NewLifecycle(store, newExecutor(cfg, apiToken), notifiers, actions.Config{
		ExecutorTimeout: cfg.Actions.ExecutorTimeout,
		ClaimTTL:        cfg.Actions.ClaimTTL,
		Logger:          logger,
	})
	defer lifecycle.Wait()

	processor := pipeline.NewProcessor(store, embedder, index, assembler, decider, lifecycle, pipeline.Config{
		HistoryLimit: cfg.Decision.HistoryLimit,
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		Logger:       logger,
	})

	worker := pipeline.NewWorker(store, processor, cfg.Ingest.PollInterval, cfg.Ingest.Workers)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	reconciler := pipeline.NewReconciler(store, processor, cfg.Ingest.ReconcileSchedule, logger)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting reconciler: %w", err)
	}
	defer reconciler.Stop()

	deps := api.Deps{
		Pipeline:      processor,
		Contexts:      store,
		Actions:       lifecycle,
		Searcher:      retrieval.NewSearcher(embedder, index),
		Index:         index,
		Stats:         store,
		Hub:           hub,
		Token:         apiToken,
		BatchWorkers:  cfg.Ingest.Workers,
		VectorBackend: cfg.Vector.Backend,
	}

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "commander listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Websocket connections are hijacked and not tracked by Shutdown.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	<-workerDone
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("commander is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop commander (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to commander (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Status  string         `json:"status"`
			Vectors *int           `json:"vectors"`
			Backlog *storage.Stats `json:"backlog"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "%s on port %d", health.Status, cfg.Server.Port)
			if health.Vectors != nil {
				printStatus("Vectors", "%d (%s)", *health.Vectors, cfg.Vector.Backend)
			}
			if b := health.Backlog; b != nil {
				printStatus("Contexts", "%d (%d unprocessed)", b.Contexts, b.Unprocessed)
				printStatus("Actions", "%d pending, %d failed", b.PendingActions, b.FailedActions)
				printStatus("Queue", "%d queued, %d failed", b.QueuedJobs, b.FailedJobs)
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Engine.Provider == engine.ProviderOllama {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		v, err := ollama.New(cfg.Ollama.BaseURL).Version(ctx)
		cancel()
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			printStatus("Ollama", "%s running at %s", v, cfg.Ollama.BaseURL)
		}
	} else {
		printStatus("Engine", "%s at %s", cfg.Engine.Provider, cfg.OpenAI.BaseURL)
	}

	printStatus("Chat model", "%s", chatModel(cfg))
	printStatus("Embed model", "%s", embedModel(cfg))
	printStatus("Reasoner", "%s", cfg.Decision.Reasoner)

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

