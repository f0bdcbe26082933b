package safety

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Classifier flags unsafe images; flags[i] corresponds to images[i]
type Classifier interface {
	Classify(ctx context.Context, images []string) ([]bool, error)
}

// Gate screens images before and after generation.
// A nil *Gate means the pipeline runs without a safety checker.
type Gate struct {
	classifier Classifier
	logger     zerolog.Logger
}

// NewGate wraps a classifier
func NewGate(classifier Classifier, logger zerolog.Logger) *Gate {
	return &Gate{
		classifier: classifier,
		logger:     logger,
	}
}

// Screen classifies images and returns one flag per image, in order
func (g *Gate) Screen(ctx context.Context, images []string) ([]bool, error) {
	if len(images) == 0 {
		return nil, nil
	}

	flags, err := g.classifier.Classify(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("safety check failed: %w", err)
	}
	if len(flags) != len(images) {
		return nil, fmt.Errorf("safety check failed: classifier returned %d flags for %d images", len(flags), len(images))
	}
	return flags, nil
}

// CheckInputs fails with ErrUnsafeInput if any input image is flagged
func (g *Gate) CheckInputs(ctx context.Context, images []string) error {
	flags, err := g.Screen(ctx, images)
	if err != nil {
		return err
	}
	for i, flagged := range flags {
		if flagged {
			g.logger.Warn().Str("image", images[i]).Msg("Input image flagged by safety checker")
			return pipeline.ErrUnsafeInput
		}
	}
	return nil
}

// FilterOutputs drops flagged outputs and returns the survivors with the number dropped
func (g *Gate) FilterOutputs(ctx context.Context, outputs []pipeline.Asset) ([]pipeline.Asset, int, error) {
	paths := make([]string, len(outputs))
	for i, a := range outputs {
		paths[i] = a.Path
	}

	flags, err := g.Screen(ctx, paths)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]pipeline.Asset, 0, len(outputs))
	for i, a := range outputs {
		if flags[i] {
			g.logger.Info().Str("image", a.Path).Msg("Removing NSFW image")
			continue
		}
		kept = append(kept, a)
	}
	return kept, len(outputs) - len(kept), nil
}
