// Command agentcore runs one agent task from the command line, wiring
// configuration, the session store, an LLM provider, the tool registry,
// tracers, and the iteration loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/eventstream"
	"github.com/haasonsaas/agentcore/internal/filechange"
	"github.com/haasonsaas/agentcore/internal/providers"
	"github.com/haasonsaas/agentcore/internal/sessionstore"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		workingDir string
		sessionID  string
		tier       string
		asJSON     bool
	)

	root := &cobra.Command{
		Use:   "agentcore [task]",
		Short: "Run an autonomous agent task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if workingDir != "" {
				cfg.WorkingDir = workingDir
			}
			if sessionID != "" {
				cfg.SessionID = sessionID
			}
			return run(cmd.Context(), cfg, args[0], models.Tier(tier), asJSON)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to agentcore.yaml")
	root.Flags().StringVarP(&workingDir, "dir", "d", "", "working directory (scope root)")
	root.Flags().StringVarP(&sessionID, "session", "s", "", "session id for history and KPI baselines")
	root.Flags().StringVar(&tier, "tier", string(models.TierSmall), "starting tier: small, medium, large")
	root.Flags().BoolVar(&asJSON, "json", false, "print the full TaskResult as JSON")
	return root
}

func run(ctx context.Context, cfg *config.Config, task string, tier models.Tier, asJSON bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var store agent.SessionStore
	if cfg.Store.Path != "" {
		sqlStore, err := sessionstore.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		sqlStore.StartMaintenance()
		store = sqlStore
	} else {
		store = sessionstore.NewInProcess()
	}

	var tracer agent.Tracer = agent.NopTracer{}
	if cfg.Trace.JSONLPath != "" {
		jsonl, err := agent.NewJSONLTracer(cfg.Trace.JSONLPath, logger)
		if err != nil {
			return err
		}
		defer jsonl.Close()
		tracer = jsonl
	}
	if cfg.Trace.OTel {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()
		tracer = agent.MultiTracer{tracer, agent.NewOTelTracer(tp.Tracer("agentcore"))}
	}

	var sink agent.EventSink = agent.NopEventSink{}
	if cfg.Events.WebsocketAddr != "" {
		broadcaster := eventstream.NewBroadcaster(logger)
		sink = broadcaster
		mux := http.NewServeMux()
		mux.Handle("/events", broadcaster)
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Events.WebsocketAddr, mux); err != nil {
				logger.Warn("event server stopped", "error", err)
			}
		}()
	}

	watcher, err := filechange.NewTracker(cfg.WorkingDir, logger)
	if err != nil {
		logger.Warn("file change tracking disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	metrics := agent.NewMetrics(prometheus.DefaultRegisterer, store, logger)

	runSpec := models.Run{
		SessionID:  cfg.SessionID,
		WorkingDir: cfg.WorkingDir,
		Task:       task,
		Tier:       tier,
	}

	tctx := &agent.ToolContext{
		WorkingDir: cfg.WorkingDir,
		SessionID:  cfg.SessionID,
	}
	if watcher != nil {
		tctx.FileChangeHook = watcher
	}

	opts := agent.DefaultOptions()
	opts.MaxIterations = cfg.Budgets.MaxIterations
	opts.SummarizationInterval = cfg.Budgets.SummarizationInterval
	opts.FactSheetMaxTokens = cfg.Memory.FactSheetMaxTokens
	opts.FactSheetMaxEntries = cfg.Memory.FactSheetMaxEntries
	opts.ArchiveMaxEntries = cfg.Memory.ArchiveMaxEntries
	opts.ArchiveMaxTotalChars = cfg.Memory.ArchiveMaxTotalChars
	opts.Logger = logger

	var runner *agent.Agent
	tctx.SpawnAgent = func(ctx context.Context, task, subDir string) (*models.TaskResult, error) {
		return runner.SpawnChild(ctx, task, subDir)
	}
	registry := tools.NewRegistry(tctx)
	runner = agent.New(runSpec, provider, registry, store, metrics, sink, tracer, agent.NopAnalytics{}, opts)

	// Ctrl-C requests a cooperative stop; a second signal kills.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		stop()
		runner.RequestStop()
	}()

	result := runner.Execute(ctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Println(result.Summary)
	if !result.Success {
		return fmt.Errorf("task did not complete: %s", result.Error)
	}
	return nil
}

func buildProvider(cfg *config.Config) (agent.Provider, error) {
	toTiers := func(m map[string]string) map[models.Tier]string {
		out := make(map[models.Tier]string, len(m))
		for k, v := range m {
			out[models.Tier(k)] = v
		}
		return out
	}
	switch cfg.Providers.Primary {
	case "anthropic":
		key := cfg.Providers.Anthropic.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("no Anthropic API key configured (set providers.anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		return providers.NewAnthropicProvider(key, toTiers(cfg.Providers.Anthropic.TierModels)), nil
	case "openai":
		key := cfg.Providers.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("no OpenAI API key configured (set providers.openai.api_key or OPENAI_API_KEY)")
		}
		return providers.NewOpenAIProvider(key, toTiers(cfg.Providers.OpenAI.TierModels)), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", agent.ErrNoProvider, cfg.Providers.Primary)
	}
}
