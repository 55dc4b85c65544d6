// Weft agent runner — starts or continues an event-sourced agent session,
// processes it to completion, and optionally tails the session category with
// an audit subscriber.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/subscriber"
	"github.com/weftlabs/weft/pkg/tools"
	"github.com/weftlabs/weft/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	message := flag.String("message", "", "Start a new session with this user message")
	threadID := flag.String("thread", "", "Continue an existing session (with -message) or inspect it")
	showEvents := flag.Bool("show-events", false, "Print the events of -thread and exit")
	audit := flag.Bool("audit", false, "Run an audit subscriber on the session category")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting weft", "version", version.Full(), "config_dir", *configDir)

	if err := run(*configDir, *message, *threadID, *showEvents, *audit); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(configDir, message, threadID string, showEvents, audit bool) error {
	ctx := context.Background()

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	client, err := store.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to message store: %w", err)
	}
	defer client.Close()
	slog.Info("Connected to message store", "database", dbConfig.Database)

	if showEvents {
		return printEvents(ctx, client, threadID)
	}
	if message == "" {
		return fmt.Errorf("nothing to do: pass -message, or -thread with -show-events")
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	model, err := llm.NewClient(llm.ProviderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
	})
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}
	slog.Info("LLM client initialized", "provider", cfg.LLM.Provider, "model", model.ModelName())

	// Cancel session processing on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var auditSub *subscriber.Subscriber
	if audit {
		auditSub, err = subscriber.New(client, subscriber.Config{
			Category:               store.BuildCategory(store.DefaultCategory, store.DefaultVersion),
			Handler:                subscriber.AuditHandler(slog.Default()),
			PollInterval:           cfg.Subscriber.PollDuration(),
			BatchSize:              cfg.Subscriber.BatchSize,
			PositionStore:          subscriber.NewStorePositionStore(client),
			SubscriberID:           "audit",
			PositionUpdateInterval: cfg.Subscriber.PositionUpdateInterval,
			MaxHandlerRetries:      cfg.Subscriber.MaxHandlerRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to build audit subscriber: %w", err)
		}
		auditSub.Start(ctx)
		defer auditSub.Stop()
	}

	streamName := ""
	if threadID == "" {
		threadID, streamName, err = engine.StartSession(ctx, client, message,
			store.DefaultCategory, store.DefaultVersion)
		if err != nil {
			return err
		}
		fmt.Printf("Started session %s\n", threadID)
	} else {
		streamName, err = store.BuildStreamName(store.DefaultCategory, store.DefaultVersion, threadID)
		if err != nil {
			return err
		}
		if err := engine.AddUserMessage(ctx, client, streamName, message); err != nil {
			return err
		}
	}

	eng := &engine.Engine{
		Store:            client,
		LLM:              model,
		Registry:         registry,
		AutoApproveTools: cfg.Engine.AutoApproveTools,
		MaxIterations:    cfg.Engine.MaxIterations,
		SystemPrompt:     cfg.Engine.SystemPrompt,
	}

	state, err := eng.ProcessThread(ctx, threadID, streamName)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s finished: status=%s llm_calls=%d tool_calls=%d errors=%d\n",
		threadID, state.Status, state.LLMCallCount, state.ToolCallCount, state.ErrorCount)
	return nil
}

// printEvents dumps a session stream as indented JSON, one object per event.
func printEvents(ctx context.Context, client *store.Client, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("-show-events requires -thread")
	}
	streamName, err := store.BuildStreamName(store.DefaultCategory, store.DefaultVersion, threadID)
	if err != nil {
		return err
	}

	msgs, err := client.ReadStream(ctx, streamName, 0, 0)
	if err != nil {
		return err
	}
	for i := range msgs {
		m := &msgs[i]
		out := map[string]any{
			"id":              m.ID.String(),
			"type":            m.Type,
			"stream_name":     m.StreamName,
			"position":        m.Position,
			"global_position": m.GlobalPosition,
			"time":            m.Time,
			"data":            json.RawMessage(m.Data),
		}
		if len(m.Metadata) > 0 {
			out["metadata"] = json.RawMessage(m.Metadata)
		}
		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}
	return nil
}
