package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/internal/config"
	"github.com/tendant/become-image-pipeline/internal/dbosruntime"
	"github.com/tendant/become-image-pipeline/internal/engine"
	"github.com/tendant/become-image-pipeline/internal/graph"
	"github.com/tendant/become-image-pipeline/internal/metrics"
	"github.com/tendant/become-image-pipeline/internal/runs"
	"github.com/tendant/become-image-pipeline/internal/safety"
	"github.com/tendant/become-image-pipeline/internal/storage"
	"github.com/tendant/become-image-pipeline/internal/workflows"
	"github.com/tendant/become-image-pipeline/internal/workspace"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
)

// Options holds everything needed to initialize the pipeline runner
type Options struct {
	Config *config.Config
	Logger zerolog.Logger

	// Registerer receives the pipeline metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	// Engine overrides the ComfyUI client built from Config
	Engine engine.Engine

	// Classifier overrides the HTTP safety classifier built from Config
	Classifier safety.Classifier

	// DisableDBOS skips the durable queue even when a database URL is configured
	DisableDBOS bool
}

// Runner provides a high-level API for running become-image predictions
type Runner struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
	engine  engine.Engine
	store   runs.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	cleanup []func()
}

// New creates and initializes a runner: it loads and validates the template, starts the engine
// and registers the become-image workflow
func New(ctx context.Context, opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", pipeline.ErrConfiguration)
	}
	logger := opts.Logger
	r := &Runner{logger: logger}

	initialized := false
	defer func() {
		if !initialized {
			r.Shutdown(5 * time.Second)
		}
	}()

	// Template problems are packaging defects; surface them before serving anything
	ids := graph.DefaultNodeIDs
	if cfg.ReducedTemplate {
		ids.BatchMultiplier = ""
	}
	template, err := graph.LoadTemplate(cfg.WorkflowTemplate, ids)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("template", cfg.WorkflowTemplate).Msg("Workflow template loaded")

	layout := workspace.Layout{
		InputDir:   cfg.InputDir,
		OutputDir:  cfg.OutputDir,
		TempDir:    cfg.EngineTempDir,
		StagingDir: cfg.StagingDir,
	}
	if err := layout.Reset(); err != nil {
		return nil, fmt.Errorf("failed to prepare workspace: %w", err)
	}

	// Engine
	r.engine = opts.Engine
	if r.engine == nil {
		r.engine = engine.NewComfyClient(engine.ComfyConfig{
			Addr:         cfg.EngineAddr,
			Command:      cfg.EngineCommand,
			ReadyTimeout: cfg.EngineReadyTimeout,
		}, logger.With().Str("component", "engine").Logger())
	}
	if closer, ok := r.engine.(io.Closer); ok {
		r.cleanup = append(r.cleanup, func() { closer.Close() })
	}
	if err := r.engine.Start(ctx, layout.OutputDir, layout.InputDir); err != nil {
		return nil, err
	}

	// Safety checker
	var gate *safety.Gate
	classifier := opts.Classifier
	if classifier == nil && cfg.SafetyCheckerURL != "" {
		classifier = safety.NewHTTPClassifier(cfg.SafetyCheckerURL)
	}
	if classifier != nil {
		gate = safety.NewGate(classifier, logger.With().Str("component", "safety").Logger())
	} else {
		logger.Warn().Msg("No safety checker configured, images will not be screened")
	}

	// Content service: HTTP API if CONTENT_API_URL is set, otherwise the embedded service
	var content interface {
		storage.Reader
		storage.Writer
	}
	if cfg.ContentAPIURL != "" {
		logger.Info().Str("url", cfg.ContentAPIURL).Msg("Using simple-content HTTP API")
		content = storage.NewHTTPStore(cfg.ContentAPIURL)
	} else {
		logger.Info().Str("storage_dir", cfg.StorageDir).Msg("Using embedded simple-content service (development preset)")
		svc, cleanupFn, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize simple-content service: %w", err)
		}
		r.cleanup = append(r.cleanup, cleanupFn)
		content = storage.NewContentService(svc)
	}

	// DBOS runtime (optional)
	if cfg.DatabaseURL != "" && !opts.DisableDBOS {
		r.runtime, err = dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL:        cfg.DatabaseURL,
			AppName:            cfg.AppName,
			QueueName:          cfg.QueueName,
			ApplicationVersion: cfg.ApplicationVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
		}
	}

	// Run store
	r.store, err = r.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r.metrics = metrics.New(reg)

	r.runner = workflows.NewWorkflowRunner(workflows.RunnerOptions{
		DBOS:    r.runtime,
		Store:   r.store,
		Metrics: r.metrics,
		Logger:  logger,
	})

	workflow := workflows.NewBecomeImageWorkflow(workflows.BecomeImageConfig{
		Layout:                 layout,
		Template:               template,
		Engine:                 r.engine,
		Safety:                 gate,
		ContentReader:          content,
		DerivedWriter:          content,
		RunTimeout:             cfg.RunTimeout,
		ScreenNormalizedInputs: cfg.ScreenNormalizedInputs,
		CheckInputs:            cfg.CheckWorkflowInput,
		Metrics:                r.metrics,
		Logger:                 logger,
	})
	r.runner.Register(pipeline.JobBecomeImage, workflow)
	logger.Info().Str("workflow", workflow.Name()).Str("job", pipeline.JobBecomeImage).Msg("Registered workflow")

	// Launch DBOS (must be after workflow registration)
	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			return nil, fmt.Errorf("failed to launch DBOS: %w", err)
		}
		logger.Info().
			Str("queue", r.runtime.QueueName()).
			Int("concurrency", r.runtime.Concurrency()).
			Msg("DBOS runtime initialized")
	}

	initialized = true
	return r, nil
}

func (r *Runner) openStore(ctx context.Context, cfg *config.Config) (runs.Store, error) {
	switch {
	case cfg.RedisURL != "":
		store, err := runs.NewRedisStore(ctx, cfg.RedisURL, cfg.RunTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis run store: %w", err)
		}
		r.cleanup = append(r.cleanup, func() { store.Close() })
		r.logger.Info().Msg("Run status stored in redis")
		return store, nil

	case r.runtime != nil:
		store, err := runs.NewPostgresStore(ctx, r.runtime.DB(), r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres run store: %w", err)
		}
		r.logger.Info().Msg("Run status stored in postgres")
		return store, nil

	default:
		r.logger.Info().Msg("Run status kept in memory")
		return runs.NewMemoryStore(), nil
	}
}

// Predict runs one prediction synchronously and returns its surviving outputs
func (r *Runner) Predict(ctx context.Context, req pipeline.PredictRequest) (*pipeline.PredictResponse, error) {
	runID := uuid.New().String()

	result, err := r.runner.Run(&workflows.WorkflowContext{
		Ctx:     ctx,
		Job:     pipeline.JobBecomeImage,
		Request: req,
		RunID:   runID,
	})
	if err != nil {
		return nil, err
	}

	resp := &pipeline.PredictResponse{
		RunID:   runID,
		Outputs: result.OutputPaths(),
	}
	if result.Seed != nil {
		resp.Seed = *result.Seed
	}
	return resp, nil
}

// Enqueue queues a prediction for a DBOS worker and returns its run id
func (r *Runner) Enqueue(ctx context.Context, req pipeline.PredictRequest) (string, error) {
	if r.runtime == nil {
		return "", fmt.Errorf("%w: set DBOS_SYSTEM_DATABASE_URL", workflows.ErrAsyncDisabled)
	}
	return r.runner.RunAsync(ctx, pipeline.JobBecomeImage, req)
}

// Status returns the recorded state of a run
func (r *Runner) Status(ctx context.Context, runID string) (*runs.Record, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Async reports whether predictions can be enqueued
func (r *Runner) Async() bool {
	return r.runtime != nil
}

// Shutdown gracefully shuts down the pipeline runner
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.runtime != nil {
		if err := r.runtime.Shutdown(timeout); err != nil {
			r.logger.Warn().Err(err).Msg("DBOS shutdown failed")
		}
		r.runtime = nil
	}
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
	r.cleanup = nil
}
