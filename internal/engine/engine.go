package engine

import (
	"context"

	"github.com/tendant/become-image-pipeline/internal/graph"
)

// Engine is the long-lived generation engine a prediction drives
type Engine interface {
	// Start launches (or attaches to) the engine, pointing it at the workspace directories
	Start(ctx context.Context, outputDir, inputDir string) error

	// LoadGraph prepares a patched workflow for submission
	LoadGraph(g graph.Graph, opts LoadOptions) (*Prompt, error)

	// Connect opens the event stream used to observe completion
	Connect(ctx context.Context) error

	// Run submits the prompt and blocks until the engine reports completion or failure
	Run(ctx context.Context, p *Prompt) error

	// ClearQueue drops any work still queued from a previous request
	ClearQueue(ctx context.Context) error
}

// LoadOptions control the checks performed by LoadGraph
type LoadOptions struct {
	// CheckInputs verifies every image referenced by the graph exists in the input directory
	CheckInputs bool
}

// Prompt is a workflow ready for submission
type Prompt struct {
	Graph graph.Graph
	ID    string // assigned by the engine on submission
}
