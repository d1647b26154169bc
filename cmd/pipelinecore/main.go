package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/northbeam-labs/pipelinecore"
	"github.com/northbeam-labs/pipelinecore/alerting"
	"github.com/northbeam-labs/pipelinecore/internal/builtinagents"
	"github.com/northbeam-labs/pipelinecore/telemetry"
)

// Config holds the CLI's flag values, mirroring the teacher's workflow CLI
// shape (one struct, parsed once in parseFlags).
type Config struct {
	PipelineFile   string
	Input          string
	CheckpointsDir string
	RedisAddr      string
	StageLogDir    string
	MetricsAddr    string
	AlertWebhook   string
	MaxCheckpoints int
	Timeout        time.Duration
	SlowThreshold  time.Duration
	Verbose        bool
	JSON           bool
}

func main() {
	config := parseFlags()

	if config.PipelineFile == "" {
		color.Red("Error: pipeline file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.PipelineFile); os.IsNotExist(err) {
		color.Red("Error: pipeline file '%s' not found", config.PipelineFile)
		os.Exit(1)
	}

	logger := setupLogger(config.JSON)

	color.Blue("Loading pipeline from: %s", config.PipelineFile)
	pipeline, err := pipelinecore.LoadPipelineFile(config.PipelineFile)
	if err != nil {
		log.Fatalf("failed to load pipeline: %v", err)
	}
	color.Cyan("Pipeline: %s", pipeline.Type())
	if pipeline.Description() != "" {
		color.White("Description: %s", pipeline.Description())
	}

	observers := pipelinecore.NewObserverRegistry(logger)

	recorder := telemetry.NewRecorder()
	telemetrySink := pipelinecore.NewTelemetrySink(recorder)
	observers.SubscribeWorkflow(telemetrySink)
	observers.SubscribeCheckpoint(telemetrySink)
	if config.MetricsAddr != "" {
		go serveMetrics(config.MetricsAddr, recorder, logger)
	}

	var alertSink *pipelinecore.AlertSink
	if config.AlertWebhook != "" {
		sink := alerting.NewSink(config.AlertWebhook, "pipelinecore", logger)
		alertSink = pipelinecore.NewAlertSink(sink, 30*time.Minute, 5*1024*1024*1024)
		observers.SubscribeWorkflow(alertSink)
		observers.SubscribeCheckpoint(alertSink)
		color.Blue("Alerts: %s", config.AlertWebhook)
	}

	primary, fallback, err := setupCheckpointBackends(config)
	if err != nil {
		log.Fatalf("failed to set up checkpoint storage: %v", err)
	}
	checkpoints := pipelinecore.NewCheckpointStore(primary, fallback, observers, pipelinecore.CheckpointStoreConfig{
		MaxCheckpointsPerWorkflow: config.MaxCheckpoints,
	}, logger)

	var stageLog pipelinecore.StageLogger = pipelinecore.NullStageLogger{}
	if config.StageLogDir != "" {
		stageLog = pipelinecore.NewFileStageLogger(config.StageLogDir)
		color.Blue("Stage invocation log: %s", config.StageLogDir)
	}

	controller := pipelinecore.NewController(observers)

	agents, err := buildAgentRegistry(pipeline, logger, config.SlowThreshold)
	if err != nil {
		log.Fatalf("failed to build agent registry: %v", err)
	}

	executor, err := pipelinecore.NewPipelineExecutor(pipeline, agents, checkpoints, controller, stageLog, logger, pipelinecore.ExecutorConfig{})
	if err != nil {
		log.Fatalf("failed to create executor: %v", err)
	}

	engine := pipelinecore.NewEngine(checkpoints, controller, observers, logger, pipelinecore.EngineConfig{})
	engine.RegisterPipeline(executor, pipeline.Type())

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	color.Green("Starting workflow...")
	started, err := engine.StartWorkflow(ctx, pipeline.Type(), config.Input)
	if err != nil {
		log.Fatalf("failed to start workflow: %v", err)
	}
	color.Green("Workflow ID: %s", started.WorkflowID)

	runUntilTerminal(ctx, engine, started.WorkflowID, pipeline.Type(), checkpoints, alertSink, recorder, config)
}

// runUntilTerminal polls GetStatus until workflowID reaches a terminal state
// or pauses. On the same tick it also drives the two time-based alert rules
// that spec.md §4.5 defines but that no state transition ever triggers on
// its own: a long-running warning once the workflow has been Running past
// alertSink's threshold, and a storage warning once cumulative checkpoint
// bytes exceed its threshold. alertSink is nil when -alert-webhook is unset,
// in which case both checks are skipped. The same tick also refreshes the
// total_storage_bytes gauge recorder exposes, since nothing else recomputes
// checkpoint storage usage on a running schedule.
func runUntilTerminal(ctx context.Context, engine *pipelinecore.Engine, workflowID, workflowType string, checkpoints *pipelinecore.CheckpointStore, alertSink *pipelinecore.AlertSink, recorder *telemetry.Recorder, config Config) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			color.Red("context done before workflow reached a terminal state: %v", ctx.Err())
			return
		case <-ticker.C:
			status, err := engine.GetStatus(ctx, workflowID)
			if err != nil {
				log.Fatalf("failed to get status: %v", err)
			}
			if config.Verbose {
				color.White("  [%s] step %d/%d agent=%s", status.Status, status.Progress.CurrentStep, status.Progress.TotalSteps, status.Progress.CurrentAgentID)
			}

			if alertSink != nil {
				alertSink.CheckLongRunning(workflowID, workflowType)
			}
			if stats, err := checkpoints.Statistics(ctx); err == nil {
				recorder.SetTotalStorageBytes(stats.TotalBytes)
				if alertSink != nil {
					alertSink.CheckStorageThreshold(stats.TotalBytes)
				}
			}

			if status.Status.IsTerminal() || status.Status == pipelinecore.StatePaused {
				printOutcome(status)
				return
			}
		}
	}
}

func printOutcome(status *pipelinecore.StatusResult) {
	switch status.Status {
	case pipelinecore.StateCompleted:
		color.Green("Workflow %s completed.", status.WorkflowID)
	case pipelinecore.StateFailed:
		color.Red("Workflow %s failed.", status.WorkflowID)
	case pipelinecore.StateCancelled:
		color.Yellow("Workflow %s cancelled.", status.WorkflowID)
	case pipelinecore.StatePaused:
		color.Magenta("Workflow %s paused (checkpoint %s). Resume it separately.", status.WorkflowID, status.LatestCheckpointID)
	}
}

func setupCheckpointBackends(config Config) (primary, fallback pipelinecore.CheckpointBackend, err error) {
	fileBackend, err := pipelinecore.NewFileCheckpointBackend(config.CheckpointsDir)
	if err != nil {
		return nil, nil, err
	}
	if config.RedisAddr == "" {
		return fileBackend, nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
	return pipelinecore.NewRedisCheckpointBackend(client), fileBackend, nil
}

// buildAgentRegistry resolves a builtin Agent implementation for every stage
// in pipeline by its agent_id, case-insensitively, then wraps each one in
// the Retry/Timing/Logging middleware stack using that stage's own
// max_attempts and the CLI-wide slowThreshold. There is no plugin mechanism
// here; this CLI exists to exercise pipeline definitions and the control
// plane around them, not to host real production agents.
func buildAgentRegistry(pipeline *pipelinecore.Pipeline, logger *slog.Logger, slowThreshold time.Duration) (map[string]pipelinecore.Agent, error) {
	agents := make(map[string]pipelinecore.Agent, pipeline.Len())
	for _, stage := range pipeline.Stages() {
		var base pipelinecore.Agent
		switch {
		case strings.EqualFold(stage.AgentID, "clarify"):
			base = builtinagents.Clarify(stage.AgentID)
		case strings.EqualFold(stage.AgentID, "wait"):
			d := stage.Timeout
			if d <= 0 {
				d = time.Second
			}
			base = builtinagents.Wait(stage.AgentID, d)
		case strings.EqualFold(stage.AgentID, "fail"):
			base = builtinagents.Fail(stage.AgentID, stage.Description)
		default:
			base = builtinagents.Echo(stage.AgentID)
		}
		agents[stage.AgentID] = pipelinecore.ComposeMiddleware(base, stage.MaxAttempts, slowThreshold, logger)
	}
	return agents, nil
}

func serveMetrics(addr string, recorder *telemetry.Recorder, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func parseFlags() Config {
	var config Config

	flag.StringVar(&config.PipelineFile, "file", "", "Path to the YAML pipeline definition file (required)")
	flag.StringVar(&config.PipelineFile, "f", "", "Path to the YAML pipeline definition file (shorthand)")

	flag.StringVar(&config.Input, "input", "", "Initial user input for the workflow")
	flag.StringVar(&config.Input, "i", "", "Initial user input for the workflow (shorthand)")

	flag.StringVar(&config.CheckpointsDir, "checkpoints", "./checkpoints", "Directory used for file-backed checkpoint storage (fallback when -redis is set)")
	flag.StringVar(&config.RedisAddr, "redis", "", "Redis address to use as the primary checkpoint backend (optional)")
	flag.StringVar(&config.StageLogDir, "stage-log", "", "Directory to append the stage invocation audit log (optional)")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090 (optional)")
	flag.StringVar(&config.AlertWebhook, "alert-webhook", "", "Alertmanager-compatible webhook endpoint (optional)")
	flag.IntVar(&config.MaxCheckpoints, "max-checkpoints", 0, "Maximum checkpoints retained per workflow, 0 means unlimited")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall execution timeout, e.g. 30s, 5m (optional)")
	flag.DurationVar(&config.Timeout, "t", 0, "Overall execution timeout (shorthand)")
	flag.DurationVar(&config.SlowThreshold, "slow-threshold", 5*time.Second, "Warn when a stage's Run call exceeds this duration")

	flag.BoolVar(&config.Verbose, "verbose", false, "Print progress while the workflow runs")
	flag.BoolVar(&config.Verbose, "v", false, "Print progress while the workflow runs (shorthand)")
	flag.BoolVar(&config.JSON, "json", false, "Emit JSON-formatted logs instead of colorized text")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `pipelinecore - run a pipeline definition to completion

Usage: %s [options] -file <pipeline.yaml>

Examples:
  %s -file pipeline.yaml -input "summarize this document"
  %s -file pipeline.yaml -input "..." -redis localhost:6379 -checkpoints ./checkpoints
  %s -file pipeline.yaml -input "..." -metrics-addr :9090 -alert-webhook http://localhost:9093/api/v2/alerts

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

func setupLogger(json bool) *slog.Logger {
	if json {
		return pipelinecore.NewJSONLogger()
	}
	return pipelinecore.NewLogger()
}
