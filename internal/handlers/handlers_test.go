package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/become-image-pipeline/internal/metrics"
	"github.com/tendant/become-image-pipeline/internal/runs"
	"github.com/tendant/become-image-pipeline/internal/workflows"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

type fakePredictor struct {
	err      error
	received []pipeline.PredictRequest
	records  map[string]*runs.Record
}

func (p *fakePredictor) Predict(ctx context.Context, req pipeline.PredictRequest) (*pipeline.PredictResponse, error) {
	p.received = append(p.received, req)
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.PredictResponse{RunID: "run-1", Seed: 7, Outputs: []string{"/tmp/outputs/ComfyUI_00001_.png"}}, nil
}

func (p *fakePredictor) Enqueue(ctx context.Context, req pipeline.PredictRequest) (string, error) {
	p.received = append(p.received, req)
	if p.err != nil {
		return "", p.err
	}
	return "become_image-abc", nil
}

func (p *fakePredictor) Status(ctx context.Context, runID string) (*runs.Record, error) {
	rec, ok := p.records[runID]
	if !ok {
		return nil, runs.ErrNotFound
	}
	return rec, nil
}

func newServer(t *testing.T, p *fakePredictor) *httptest.Server {
	return newServerWithRoot(t, p, "")
}

func newServerWithRoot(t *testing.T, p *fakePredictor, inputRoot string) *httptest.Server {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	srv := httptest.NewServer(NewRouter(NewHandler(p, inputRoot, zerolog.Nop()), reg))
	t.Cleanup(srv.Close)
	return srv
}

const validBody = `{"image": {"content_id": "c-face"}, "image_to_become": {"content_id": "c-style"}}`

func post(t *testing.T, url, body string) *http.Response {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPredictAppliesDefaults(t *testing.T) {
	p := &fakePredictor{}
	srv := newServer(t, p)

	resp := post(t, srv.URL+"/v1/predict", validBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out pipeline.PredictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, int64(7), out.Seed)
	assert.Len(t, out.Outputs, 1)

	require.Len(t, p.received, 1)
	req := p.received[0]
	assert.Equal(t, "c-face", req.Image.ContentID)
	assert.Equal(t, pipeline.DefaultPrompt, req.Prompt)
	assert.Equal(t, pipeline.DefaultNumberOfImages, req.NumberOfImages)
	assert.Equal(t, pipeline.DefaultImageToBecomeNoise, req.ImageToBecomeNoise)
	assert.Nil(t, req.Seed)
}

func TestPredictErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"image":`, nil, http.StatusBadRequest},
		{"missing image", `{"image_to_become": {"content_id": "c-style"}}`, nil, http.StatusBadRequest},
		{"out of range", `{"image": {"content_id": "a"}, "image_to_become": {"content_id": "b"}, "number_of_images": 11}`, nil, http.StatusBadRequest},
		{"local path", `{"image": {"path": "/etc/face.png"}, "image_to_become": {"content_id": "b"}}`, nil, http.StatusBadRequest},
		{"unsupported format", validBody, fmt.Errorf("normalize: %w", pipeline.ErrUnsupportedFormat), http.StatusBadRequest},
		{"unsafe input", validBody, pipeline.ErrUnsafeInput, http.StatusUnprocessableEntity},
		{"engine failure", validBody, fmt.Errorf("%w: node 75", pipeline.ErrEngineFailure), http.StatusBadGateway},
		{"configuration", validBody, fmt.Errorf("%w: node 22 missing", pipeline.ErrConfiguration), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &fakePredictor{err: tt.err})

			resp := post(t, srv.URL+"/v1/predict", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var out ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestPredictMissingInputMessage(t *testing.T) {
	srv := newServer(t, &fakePredictor{})

	resp := post(t, srv.URL+"/v1/predict", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "no image and image_to_become provided")
}

func TestEnqueue(t *testing.T) {
	srv := newServer(t, &fakePredictor{})

	resp := post(t, srv.URL+"/v1/predictions", validBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out pipeline.EnqueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "become_image-abc", out.RunID)
}

func TestEnqueueWithoutDBOS(t *testing.T) {
	srv := newServer(t, &fakePredictor{err: workflows.ErrAsyncDisabled})

	resp := post(t, srv.URL+"/v1/predictions", validBody)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	seed := int64(3)
	srv := newServer(t, &fakePredictor{records: map[string]*runs.Record{
		"run-1": {RunID: "run-1", Status: runs.StatusSucceeded, Seed: &seed, Outputs: []string{"a.png"}},
	}})

	resp, err := http.Get(srv.URL + "/v1/runs/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec runs.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, runs.StatusSucceeded, rec.Status)
	assert.Equal(t, []string{"a.png"}, rec.Outputs)

	missing, err := http.Get(srv.URL + "/v1/runs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, &fakePredictor{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	assert.Equal(t, http.StatusOK, m.StatusCode)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(fmt.Errorf("x: %w", workflows.ErrInvalidRequest)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("boom")))
}

func TestLocalPathsRejectedWithoutInputRoot(t *testing.T) {
	p := &fakePredictor{}
	srv := newServer(t, p)

	for _, url := range []string{srv.URL + "/v1/predict", srv.URL + "/v1/predictions"} {
		resp := post(t, url, `{"image": {"path": "/etc/passwd.png"}, "image_to_become": {"content_id": "c-style"}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var out ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Contains(t, out.Error, "content_id")
	}
	assert.Empty(t, p.received)
}

func TestLocalPathsConfinedToInputRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	for _, name := range []string{"face.png", "style.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0644))
	}
	secret := filepath.Join(outside, "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0644))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link.png")))

	p := &fakePredictor{}
	srv := newServerWithRoot(t, p, root)

	body := func(image, style string) string {
		b, err := json.Marshal(map[string]any{
			"image":           map[string]string{"path": image},
			"image_to_become": map[string]string{"path": style},
		})
		require.NoError(t, err)
		return string(b)
	}

	resp := post(t, srv.URL+"/v1/predict", body(filepath.Join(root, "face.png"), filepath.Join(root, "style.png")))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, p.received, 1)

	rejected := map[string]string{
		"outside root": body(secret, filepath.Join(root, "style.png")),
		"traversal":    body(filepath.Join(root, "..", filepath.Base(outside), "secret.png"), filepath.Join(root, "style.png")),
		"symlink out":  body(filepath.Join(root, "face.png"), filepath.Join(root, "link.png")),
		"missing file": body(filepath.Join(root, "nope.png"), filepath.Join(root, "style.png")),
	}
	for name, b := range rejected {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv.URL+"/v1/predict", b)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Len(t, p.received, 1)
}
