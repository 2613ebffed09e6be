// Command botengine runs an autonomous task against a goal: it wires the
// reasoning oracle, the browser bridge, the tool registry and the run store
// together and drives the execution loop to a terminal status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bottleneck-bots/botengine/internal/browser"
	"github.com/bottleneck-bots/botengine/internal/confidence"
	"github.com/bottleneck-bots/botengine/internal/config"
	"github.com/bottleneck-bots/botengine/internal/correction"
	"github.com/bottleneck-bots/botengine/internal/engine"
	"github.com/bottleneck-bots/botengine/internal/eventserver"
	"github.com/bottleneck-bots/botengine/internal/llm"
	"github.com/bottleneck-bots/botengine/internal/logger"
	"github.com/bottleneck-bots/botengine/internal/store"
	"github.com/bottleneck-bots/botengine/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "botengine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     = flag.String("config", config.GetConfigPath(), "path to the config file")
		goal           = flag.String("goal", "", "goal to accomplish")
		initialContext = flag.String("context", "", "extra context for the run")
		maxIterations  = flag.Int("max-iterations", 0, "override the iteration ceiling")
		listRuns       = flag.Bool("list", false, "list recent runs and exit")
		showRun        = flag.String("show", "", "print the stored state of a run and exit")
		jsonOutput     = flag.Bool("json", false, "print the final result as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listRuns {
		return printRuns(ctx, db)
	}
	if *showRun != "" {
		return printRunState(ctx, db, *showRun)
	}

	if *goal == "" {
		flag.Usage()
		return fmt.Errorf("a -goal is required")
	}
	if cfg.Oracle.APIKey == "" {
		return fmt.Errorf("no API key configured for provider %s", cfg.Oracle.Provider)
	}

	oracle, err := llm.NewClient(cfg.Oracle.Provider, cfg.Oracle.APIKey, cfg.Oracle.Model)
	if err != nil {
		return fmt.Errorf("failed to create oracle client: %w", err)
	}

	bridge := browser.NewBridge(cfg.Browser.BridgeURL, time.Duration(cfg.Browser.TimeoutSeconds)*time.Second)

	registry := tools.NewRegistry(tools.NewAllowlistAuthorizer(cfg.AllowedTools))
	tools.RegisterBrowserTools(registry, bridge)
	registry.Register(tools.NewHTTPRequestTool())

	state := engine.NewExecutionState(*goal, *initialContext)
	registry.Register(&tools.StoreValueTool{Scratch: state})
	registry.Register(&tools.GetValueTool{Scratch: state})

	scorer := confidence.NewScorer(registry)
	corrector := correction.NewEngine(correction.NewOracleAnalyzer(oracle), registry, correction.NewMemory(), "engine")

	var observer engine.Observer = engine.NopObserver{}
	if cfg.Events.Enabled {
		events := eventserver.New(cfg.Events.ListenAddr, db)
		observer = events
		go func() {
			if err := events.Start(ctx); err != nil {
				logger.Warn("event server stopped: %v", err)
			}
		}()
	}

	eng := engine.New(engine.Options{
		Oracle:        oracle,
		Registry:      registry,
		Scorer:        scorer,
		Corrector:     corrector,
		Browser:       bridge,
		Observer:      observer,
		Persister:     db,
		MaxIterations: cfg.MaxIterations,
	})

	if err := db.CreateRun(ctx, state.RunID, *goal); err != nil {
		logger.Warn("failed to create run record: %v", err)
	}

	result, err := eng.RunFromState(ctx, state, *maxIterations)
	if err != nil {
		return err
	}

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	printResult(result, state)
	if result.FinalStatus != engine.FinalCompleted {
		os.Exit(2)
	}
	return nil
}

func printResult(result *engine.Result, state *engine.ExecutionState) {
	fmt.Printf("status:     %s\n", result.FinalStatus)
	fmt.Printf("iterations: %d\n", result.Iterations)
	fmt.Printf("duration:   %dms\n", result.DurationMs)

	if result.Plan != nil {
		fmt.Println("plan:")
		for _, phase := range result.Plan.Phases {
			fmt.Printf("  [%s] %s\n", phase.Status, phase.Name)
		}
	}

	if result.FinalStatus == engine.FinalNeedsInput && state.PendingQuestion != "" {
		fmt.Printf("question:   %s\n", state.PendingQuestion)
	}
	if result.Output != "" {
		fmt.Printf("output:\n%s\n", result.Output)
	}
}

func printRuns(ctx context.Context, db *store.Store) error {
	records, err := db.ListRuns(ctx, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, record := range records {
		status := record.FinalStatus
		if status == "" {
			status = "running"
		}
		goal := record.Goal
		if len(goal) > 60 {
			goal = goal[:60] + "..."
		}
		fmt.Printf("%s  %-14s  %s  %s\n",
			record.ID, status, record.CreatedAt.Format(time.RFC3339), goal)
	}
	return nil
}

func printRunState(ctx context.Context, db *store.Store, runID string) error {
	snapshot, err := db.LoadSnapshot(ctx, runID)
	if err != nil {
		return err
	}
	var pretty map[string]interface{}
	if err := json.Unmarshal(snapshot, &pretty); err != nil {
		fmt.Println(string(snapshot))
		return nil
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(pretty)
}
