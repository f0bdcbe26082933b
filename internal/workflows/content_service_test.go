package workflows

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/become-image-pipeline/internal/storage"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
	"github.com/tendant/simple-content/pkg/simplecontent"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(8, 8, c), imaging.PNG))
	return buf.Bytes()
}

func uploadImage(t *testing.T, svc simplecontent.Service, name string, data []byte) *simplecontent.Content {
	t.Helper()
	content, err := svc.UploadContent(context.Background(), simplecontent.UploadContentRequest{
		OwnerID:      uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		TenantID:     uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Name:         name,
		DocumentType: "image/png",
		Reader:       bytes.NewReader(data),
		FileName:     name,
	})
	require.NoError(t, err)
	return content
}

func TestExecuteWithEmbeddedContentService(t *testing.T) {
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	require.NoError(t, err)
	defer cleanup()
	store := storage.NewContentService(svc)

	subjectData := pngBytes(t, color.NRGBA{R: 200, A: 255})
	subject := uploadImage(t, svc, "face.png", subjectData)
	style := uploadImage(t, svc, "style.png", pngBytes(t, color.NRGBA{B: 200, A: 255}))

	h := newHarness(t, func(cfg *BecomeImageConfig) {
		cfg.ContentReader = store
		cfg.DerivedWriter = store
	})

	req := pipeline.NewPredictRequest()
	req.Image = pipeline.ImageRef{ContentID: subject.ID.String()}
	req.ImageToBecome = pipeline.ImageRef{ContentID: style.ID.String()}

	ctx := context.Background()
	result, err := h.workflow.Execute(&WorkflowContext{
		Ctx:     ctx,
		Job:     pipeline.JobBecomeImage,
		Request: req,
		RunID:   "run-42",
	})
	require.NoError(t, err)
	require.Len(t, result.DerivedIDs, 2)

	staged, err := os.ReadFile(filepath.Join(h.layout.InputDir, "image_of_face.png"))
	require.NoError(t, err)
	assert.Equal(t, subjectData, staged)
	assert.FileExists(t, filepath.Join(h.layout.InputDir, "image_to_become.png"))

	derived, err := svc.ListDerivedContent(ctx,
		simplecontent.WithParentID(subject.ID),
		simplecontent.WithDerivationType(pipeline.DerivedTypeBecomeImage),
	)
	require.NoError(t, err)
	require.Len(t, derived, 2)

	var variants []string
	for _, d := range derived {
		variants = append(variants, d.Variant)
		assert.Equal(t, pipeline.DerivedTypeBecomeImage, d.DerivationType)
		assert.Contains(t, result.DerivedIDs, d.ContentID.String())

		details, err := svc.GetContentDetails(ctx, d.ContentID)
		require.NoError(t, err)
		assert.Contains(t, details.Tags, "run:run-42")
		assert.Contains(t, details.Tags, d.Variant)
	}
	assert.ElementsMatch(t, []string{"become_image_v1_0", "become_image_v1_1"}, variants)

	// Outputs belong to the subject only
	styleDerived, err := svc.ListDerivedContent(ctx, simplecontent.WithParentID(style.ID))
	require.NoError(t, err)
	assert.Empty(t, styleDerived)
}

func TestContentServiceOpenUnknownContent(t *testing.T) {
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	require.NoError(t, err)
	defer cleanup()
	store := storage.NewContentService(svc)

	_, err = store.Open(context.Background(), "not-a-uuid")
	assert.Error(t, err)

	_, err = store.Open(context.Background(), uuid.New().String())
	assert.Error(t, err)
}
