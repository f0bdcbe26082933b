package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/internal/dbosruntime"
	"github.com/tendant/become-image-pipeline/internal/metrics"
	"github.com/tendant/become-image-pipeline/internal/runs"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Job     string
	Request pipeline.PredictRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution
type WorkflowResult struct {
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Phase      string           `json:"phase"` // last phase reached, or the phase that failed
	Seed       *int64           `json:"seed,omitempty"`
	Outputs    []pipeline.Asset `json:"outputs,omitempty"`
	Dropped    int              `json:"dropped,omitempty"`
	DerivedIDs []string         `json:"derived_ids,omitempty"`
}

// OutputPaths returns the paths of the surviving outputs in collection order
func (r *WorkflowResult) OutputPaths() []string {
	paths := make([]string, len(r.Outputs))
	for i, a := range r.Outputs {
		paths[i] = a.Path
	}
	return paths
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// Task is the durable input of an enqueued workflow
type Task struct {
	Job     string                  `json:"job"`
	Request pipeline.PredictRequest `json:"request"`
}

// RunnerOptions configures a WorkflowRunner
type RunnerOptions struct {
	// DBOS enables durable async execution. Optional.
	DBOS *dbosruntime.Runtime

	// Store records run outcomes. Defaults to an in-memory store.
	Store runs.Store

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// WorkflowRunner executes workflows one at a time
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
	store       runs.Store
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	// The workspace and engine are shared; only one run may hold them
	mu sync.Mutex
}

// NewWorkflowRunner creates a new workflow runner, registering the durable workflow when DBOS is configured
func NewWorkflowRunner(opts RunnerOptions) *WorkflowRunner {
	if opts.Store == nil {
		opts.Store = runs.NewMemoryStore()
	}

	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: opts.DBOS,
		store:       opts.Store,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}

	// Register the DBOS workflow function
	if opts.DBOS != nil {
		dbos.RegisterWorkflow(opts.DBOS.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Run executes a workflow synchronously, waiting for any run in progress to finish first
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Job]
	if !ok {
		return &WorkflowResult{
			Success: false,
			Error:   ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}
	if wctx.RunID == "" {
		wctx.RunID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	r.record(wctx.Ctx, runs.Record{
		RunID:     wctx.RunID,
		Status:    runs.StatusRunning,
		StartedAt: started,
	})

	result, err := workflow.Execute(wctx)

	finished := time.Now()
	rec := runs.Record{
		RunID:      wctx.RunID,
		Status:     runs.StatusSucceeded,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if result != nil {
		rec.Seed = result.Seed
		rec.Outputs = result.OutputPaths()
		rec.Dropped = result.Dropped
	}

	outcome := metrics.OutcomeSucceeded
	if err != nil {
		rec.Status = runs.StatusFailed
		rec.Error = err.Error()
		outcome = metrics.OutcomeFailed
		if errors.Is(err, pipeline.ErrUnsafeInput) || errors.Is(err, pipeline.ErrMissingInput) {
			outcome = metrics.OutcomeRejected
		}
	}
	r.record(wctx.Ctx, rec)
	r.metrics.ObservePrediction(outcome, started)

	return result, err
}

// record stores rec; a store failure never fails the run itself
func (r *WorkflowRunner) record(ctx context.Context, rec runs.Record) {
	if err := r.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn().Err(err).Str("run_id", rec.RunID).Msg("Failed to record run")
	}
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, job string, req pipeline.PredictRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", ErrAsyncDisabled
	}

	workflowID := fmt.Sprintf("%s-%s", job, uuid.New().String())

	r.record(ctx, runs.Record{
		RunID:     workflowID,
		Status:    runs.StatusPending,
		StartedAt: time.Now(),
	})

	// Enqueue workflow with DBOS (generic function with type parameters)
	handle, err := dbos.RunWorkflow[Task, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		Task{Job: job, Request: req},
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue workflow: %w", err)
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, task Task) (*WorkflowResult, error) {
	// Get workflow ID from DBOS context
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	// DBOSContext implements context.Context
	return r.Run(&WorkflowContext{
		Ctx:     dbosCtx,
		Job:     task.Job,
		Request: task.Request,
		RunID:   workflowID,
	})
}

// GetStatus retrieves the status of a workflow execution.
// Runs enqueued by another process are looked up in the DBOS status table.
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*runs.Record, error) {
	rec, err := r.store.Get(ctx, runID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, runs.ErrNotFound) || r.dbosRuntime == nil {
		return nil, err
	}

	info, dbErr := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if dbErr != nil {
		if errors.Is(dbErr, dbosruntime.ErrWorkflowNotFound) {
			return nil, runs.ErrNotFound
		}
		return nil, dbErr
	}

	return &runs.Record{
		RunID:     info.WorkflowUUID,
		Status:    StatusFromDBOS(info.Status),
		StartedAt: time.UnixMilli(info.CreatedAt),
	}, nil
}

// StatusFromDBOS maps a DBOS workflow status onto a run status
func StatusFromDBOS(status string) string {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return runs.StatusSucceeded
	case "ERROR", "CANCELLED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED", "RETRIES_EXCEEDED":
		return runs.StatusFailed
	case "PENDING":
		return runs.StatusRunning
	default:
		return runs.StatusPending
	}
}
