package workflows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/internal/engine"
	"github.com/tendant/become-image-pipeline/internal/graph"
	"github.com/tendant/become-image-pipeline/internal/inputs"
	"github.com/tendant/become-image-pipeline/internal/metrics"
	"github.com/tendant/become-image-pipeline/internal/outputs"
	"github.com/tendant/become-image-pipeline/internal/safety"
	"github.com/tendant/become-image-pipeline/internal/storage"
	"github.com/tendant/become-image-pipeline/internal/workspace"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Logical names of the normalized inputs; the template's loader nodes point at these
const (
	SubjectInputName = "image_of_face"
	StyleInputName   = "image_to_become"
)

// BecomeImageConfig holds the collaborators of a BecomeImageWorkflow
type BecomeImageConfig struct {
	Layout   workspace.Layout
	Template *graph.Template
	Engine   engine.Engine

	// Safety screens inputs and outputs. Nil means the deployment has no safety checker.
	Safety *safety.Gate

	// ContentReader resolves inputs given by content id. Optional.
	ContentReader storage.Reader

	// DerivedWriter publishes outputs as derived content of the subject. Optional;
	// only used when the subject was given by content id.
	DerivedWriter storage.Writer

	// RunTimeout bounds a single engine run. Zero means no limit beyond the request context.
	RunTimeout time.Duration

	// ScreenNormalizedInputs pre-screens the normalized files instead of the raw uploads
	ScreenNormalizedInputs bool

	// CheckInputs verifies the patched graph's images exist before submission
	CheckInputs bool

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// BecomeImageWorkflow turns a subject image into the style of a second image.
// Only one Execute may run at a time against a given workspace and engine.
type BecomeImageWorkflow struct {
	cfg        BecomeImageConfig
	normalizer *inputs.Normalizer
	collector  *outputs.Collector
}

// NewBecomeImageWorkflow creates a new become-image workflow
func NewBecomeImageWorkflow(cfg BecomeImageConfig) *BecomeImageWorkflow {
	return &BecomeImageWorkflow{
		cfg:        cfg,
		normalizer: inputs.NewNormalizer(cfg.Layout, cfg.Logger),
		collector:  outputs.NewCollector(cfg.Logger),
	}
}

// Name returns the workflow name
func (w *BecomeImageWorkflow) Name() string {
	return "become_image"
}

// ResolveSeed returns the supplied seed unchanged or a fresh value in [0, 2^32)
func ResolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return int64(rand.Uint32())
}

// Execute runs one prediction end to end
func (w *BecomeImageWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx := wctx.Ctx
	req := wctx.Request
	log := w.cfg.Logger.With().Str("run_id", wctx.RunID).Logger()
	state := newSessionState(log)

	log.Info().Msg("Starting become-image workflow")

	fail := func(err error) (*WorkflowResult, error) {
		phase := state.fail(err)
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
			Phase:   string(phase),
			Seed:    state.Seed,
		}, err
	}

	// Step 1: Both images are required; nothing is touched until they are present
	if err := req.CheckImages(); err != nil {
		return fail(err)
	}
	if err := w.checkOutsideWorkspace(req); err != nil {
		return fail(err)
	}

	// Step 2: Reset workspace and engine queue
	state.enter(PhaseReset)
	if err := w.reset(ctx); err != nil {
		return fail(err)
	}
	log.Info().Msg("Workspace reset")

	// Step 3: Normalize inputs into the input workspace
	state.enter(PhaseInputsReady)
	subjectSrc, err := w.resolve(ctx, req.Image, SubjectInputName)
	if err != nil {
		return fail(err)
	}
	styleSrc, err := w.resolve(ctx, req.ImageToBecome, StyleInputName)
	if err != nil {
		return fail(err)
	}

	subjectFile, err := w.normalizer.Normalize(subjectSrc, SubjectInputName)
	if err != nil {
		return fail(fmt.Errorf("failed to normalize image: %w", err))
	}
	styleFile, err := w.normalizer.Normalize(styleSrc, StyleInputName)
	if err != nil {
		return fail(fmt.Errorf("failed to normalize image_to_become: %w", err))
	}
	state.Inputs = []pipeline.Asset{
		{Path: subjectFile, Role: pipeline.RoleInputSubject},
		{Path: styleFile, Role: pipeline.RoleInputStyle},
	}
	log.Info().Str("image", subjectFile).Str("image_to_become", styleFile).Msg("Inputs normalized")

	screening := w.cfg.Safety != nil && !req.DisableSafetyChecker

	// Step 4: Pre-generation safety screen
	if screening {
		state.enter(PhaseSafetyPre)
		screen := []string{subjectSrc, styleSrc}
		if w.cfg.ScreenNormalizedInputs {
			screen = []string{
				w.inputPath(subjectFile),
				w.inputPath(styleFile),
			}
		}
		if err := w.cfg.Safety.CheckInputs(ctx, screen); err != nil {
			return fail(err)
		}
		log.Info().Msg("Input images passed safety check")
	}

	// Step 5: Resolve seed and patch the workflow graph
	seed := ResolveSeed(req.Seed)
	state.Seed = &seed
	if req.Seed == nil {
		log.Info().Int64("seed", seed).Msg("Random seed set")
	}

	state.enter(PhaseGraphReady)
	g, err := w.cfg.Template.Patch(graph.Params{
		SubjectFilename:       subjectFile,
		StyleFilename:         styleFile,
		Prompt:                req.Prompt,
		NegativePrompt:        req.NegativePrompt,
		NumberOfImages:        req.NumberOfImages,
		DenoisingStrength:     req.DenoisingStrength,
		PromptStrength:        req.PromptStrength,
		ControlDepthStrength:  req.ControlDepthStrength,
		InstantIDStrength:     req.InstantIDStrength,
		ImageToBecomeStrength: req.ImageToBecomeStrength,
		ImageToBecomeNoise:    req.ImageToBecomeNoise,
		Seed:                  seed,
	})
	if err != nil {
		return fail(err)
	}

	// Step 6: Submit the graph and wait for the engine
	if err := w.run(ctx, g, state); err != nil {
		return fail(err)
	}

	// Step 7: Collect outputs
	state.enter(PhaseComplete)
	collected, err := w.collector.Collect(w.cfg.Layout.OutputDir)
	if err != nil {
		return fail(err)
	}
	state.Outputs = collected

	// Step 8: Post-generation safety screen
	if screening {
		state.enter(PhaseSafetyPost)
		kept, dropped, err := w.cfg.Safety.FilterOutputs(ctx, collected)
		if err != nil {
			return fail(err)
		}
		state.Outputs = kept
		state.Dropped = dropped
		w.cfg.Metrics.ObserveFiltered(dropped)
	}

	// Step 9: Publish outputs as derived content of the subject
	var derivedIDs []string
	if w.cfg.DerivedWriter != nil && req.Image.ContentID != "" {
		derivedIDs, err = w.publish(ctx, wctx.RunID, req.Image.ContentID, state.Outputs)
		if err != nil {
			return fail(err)
		}
	}

	state.enter(PhaseDone)
	log.Info().Int("outputs", len(state.Outputs)).Int("dropped", state.Dropped).Msg("Workflow completed successfully")

	return &WorkflowResult{
		Success:    true,
		Phase:      string(PhaseDone),
		Seed:       state.Seed,
		Outputs:    state.Outputs,
		Dropped:    state.Dropped,
		DerivedIDs: derivedIDs,
	}, nil
}

// reset stops anything still queued in the engine before wiping the workspace,
// so a late save from an abandoned prompt cannot land in the fresh output dir
func (w *BecomeImageWorkflow) reset(ctx context.Context) error {
	if err := w.cfg.Engine.ClearQueue(ctx); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrEngineFailure, err)
	}
	if err := w.cfg.Layout.Reset(); err != nil {
		return fmt.Errorf("failed to reset workspace: %w", err)
	}
	w.cfg.Metrics.ObserveReset()
	return nil
}

// checkOutsideWorkspace rejects local inputs that the reset would delete
func (w *BecomeImageWorkflow) checkOutsideWorkspace(req pipeline.PredictRequest) error {
	for _, ref := range []pipeline.ImageRef{req.Image, req.ImageToBecome} {
		if ref.Path != "" && w.cfg.Layout.Contains(ref.Path) {
			return fmt.Errorf("%w: %s is inside the pipeline workspace; copy it elsewhere first", ErrInvalidRequest, ref.Path)
		}
	}
	return nil
}

func (w *BecomeImageWorkflow) run(ctx context.Context, g graph.Graph, state *SessionState) error {
	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	state.enter(PhaseSubmitted)
	prompt, err := w.cfg.Engine.LoadGraph(g, engine.LoadOptions{CheckInputs: w.cfg.CheckInputs})
	if err != nil {
		return fmt.Errorf("%w: failed to load graph: %w", pipeline.ErrEngineFailure, err)
	}
	if err := w.cfg.Engine.Connect(runCtx); err != nil {
		return engineError(err)
	}

	state.enter(PhaseRunning)
	if err := w.cfg.Engine.Run(runCtx, prompt); err != nil {
		return engineError(err)
	}
	return nil
}

func engineError(err error) error {
	if errors.Is(err, pipeline.ErrEngineFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", pipeline.ErrEngineFailure, err)
}

// resolve returns a local path for ref, downloading content ids into the staging directory
func (w *BecomeImageWorkflow) resolve(ctx context.Context, ref pipeline.ImageRef, logicalName string) (string, error) {
	if ref.Path != "" {
		return ref.Path, nil
	}
	if w.cfg.ContentReader == nil {
		return "", fmt.Errorf("%w: content id given for %s but no content reader is configured", ErrInvalidRequest, logicalName)
	}

	obj, err := w.cfg.ContentReader.Open(ctx, ref.ContentID)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", logicalName, err)
	}
	defer obj.Close()

	ext, err := inputs.ExtensionForMIME(obj.ContentType)
	if err != nil {
		return "", err
	}

	dst, err := w.cfg.Layout.StagingPath(logicalName + ext)
	if err != nil {
		return "", err
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, obj); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return dst, nil
}

func (w *BecomeImageWorkflow) inputPath(filename string) string {
	full, err := w.cfg.Layout.InputPath(filename)
	if err != nil {
		return filename
	}
	return full
}

func (w *BecomeImageWorkflow) publish(ctx context.Context, runID, contentID string, assets []pipeline.Asset) ([]string, error) {
	ids := make([]string, 0, len(assets))
	for i, asset := range assets {
		f, err := os.Open(asset.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open output %s: %w", asset.Rel, err)
		}

		id, err := w.cfg.DerivedWriter.Publish(ctx, storage.Output{
			ParentID: contentID,
			RunID:    runID,
			Index:    i,
			FileName: path.Base(asset.Rel),
			Body:     f,
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to publish output %s: %w", asset.Rel, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
