package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/become-image-pipeline/internal/config"
	"github.com/tendant/become-image-pipeline/internal/engine"
	"github.com/tendant/become-image-pipeline/internal/graph"
	"github.com/tendant/become-image-pipeline/internal/runs"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

type stubEngine struct {
	outputDir string
	started   bool
}

func (e *stubEngine) Start(ctx context.Context, outputDir, inputDir string) error {
	e.outputDir = outputDir
	e.started = true
	return nil
}

func (e *stubEngine) LoadGraph(g graph.Graph, opts engine.LoadOptions) (*engine.Prompt, error) {
	return &engine.Prompt{Graph: g}, nil
}

func (e *stubEngine) Connect(ctx context.Context) error { return nil }

func (e *stubEngine) Run(ctx context.Context, p *engine.Prompt) error {
	for _, name := range []string{"ComfyUI_00001_.png", "nsfw_00002_.png"} {
		if err := os.WriteFile(filepath.Join(e.outputDir, name), []byte("png"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (e *stubEngine) ClearQueue(ctx context.Context) error { return nil }

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, images []string) ([]bool, error) {
	flags := make([]bool, len(images))
	for i, img := range images {
		flags[i] = strings.Contains(filepath.Base(img), "nsfw")
	}
	return flags, nil
}

func testConfig(t *testing.T) *config.Config {
	root := t.TempDir()
	return &config.Config{
		WorkflowTemplate:   "../../templates/become-image-api.json",
		CheckWorkflowInput: true,
		InputDir:           filepath.Join(root, "inputs"),
		OutputDir:          filepath.Join(root, "outputs"),
		EngineTempDir:      filepath.Join(root, "ComfyUI", "temp"),
		StagingDir:         filepath.Join(root, "staging"),
		ContentAPIURL:      "http://127.0.0.1:1",
	}
}

func writeImage(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("image"), 0644))
	return path
}

func TestRunnerPredict(t *testing.T) {
	eng := &stubEngine{}
	r, err := New(context.Background(), Options{
		Config:     testConfig(t),
		Logger:     zerolog.Nop(),
		Engine:     eng,
		Classifier: stubClassifier{},
	})
	require.NoError(t, err)
	defer r.Shutdown(0)

	assert.True(t, eng.started)
	assert.False(t, r.Async())

	req := pipeline.NewPredictRequest()
	req.Image = pipeline.ImageRef{Path: writeImage(t, "face.png")}
	req.ImageToBecome = pipeline.ImageRef{Path: writeImage(t, "style.webp")}
	seed := int64(42)
	req.Seed = &seed

	resp, err := r.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.Seed)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, "ComfyUI_00001_.png", filepath.Base(resp.Outputs[0]))

	rec, err := r.Status(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, rec.Status)
	assert.Equal(t, 1, rec.Dropped)
}

func TestRunnerPredictMissingInput(t *testing.T) {
	r, err := New(context.Background(), Options{
		Config: testConfig(t),
		Logger: zerolog.Nop(),
		Engine: &stubEngine{},
	})
	require.NoError(t, err)
	defer r.Shutdown(0)

	_, err = r.Predict(context.Background(), pipeline.NewPredictRequest())
	assert.True(t, errors.Is(err, pipeline.ErrMissingInput))

	_, err = r.Enqueue(context.Background(), pipeline.NewPredictRequest())
	assert.Error(t, err)
}

func TestNewRejectsBrokenTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkflowTemplate = filepath.Join(t.TempDir(), "template.json")
	require.NoError(t, os.WriteFile(cfg.WorkflowTemplate, []byte(`{"22": {"inputs": {}}}`), 0644))

	eng := &stubEngine{}
	_, err := New(context.Background(), Options{Config: cfg, Logger: zerolog.Nop(), Engine: eng})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrConfiguration))
	assert.False(t, eng.started)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.True(t, errors.Is(err, pipeline.ErrConfiguration))
}
