package graph

import (
	"fmt"

	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// NodeIDs binds each parameter target to a node identifier of the template.
// This is the only place where node identifiers are known.
type NodeIDs struct {
	SubjectImage    string // LoadImage: person
	StyleImage      string // LoadImage: image to become
	PromptLoader    string // positive/negative prompt loader
	DepthControl    string // depth ControlNet
	IdentityAdapter string // InstantID
	StyleAdapter    string // IPAdapter
	Sampler         string // KSampler
	BatchMultiplier string // empty when the template has no batch node
}

// DefaultNodeIDs matches the shipped become-image-api.json template
var DefaultNodeIDs = NodeIDs{
	SubjectImage:    "22",
	StyleImage:      "83",
	PromptLoader:    "2",
	DepthControl:    "79",
	IdentityAdapter: "41",
	StyleAdapter:    "81",
	Sampler:         "75",
	BatchMultiplier: "85",
}

func (ids NodeIDs) required() []string {
	required := []string{
		ids.SubjectImage,
		ids.StyleImage,
		ids.PromptLoader,
		ids.DepthControl,
		ids.IdentityAdapter,
		ids.StyleAdapter,
		ids.Sampler,
	}
	if ids.BatchMultiplier != "" {
		required = append(required, ids.BatchMultiplier)
	}
	return required
}

func (ids NodeIDs) check(g Graph) error {
	for _, id := range ids.required() {
		node, ok := g[id]
		if !ok {
			return fmt.Errorf("%w: node %q not found in workflow template", pipeline.ErrConfiguration, id)
		}
		if node.Inputs == nil {
			return fmt.Errorf("%w: node %q has no inputs", pipeline.ErrConfiguration, id)
		}
	}
	return nil
}

// Params are the resolved values written into the template
type Params struct {
	SubjectFilename       string
	StyleFilename         string
	Prompt                string
	NegativePrompt        string
	NumberOfImages        int
	DenoisingStrength     float64
	PromptStrength        float64
	ControlDepthStrength  float64
	InstantIDStrength     float64
	ImageToBecomeStrength float64
	ImageToBecomeNoise    float64
	Seed                  int64
}

// PositivePrompt returns the prompt text sent to the loader node
func (p Params) PositivePrompt() string {
	return p.Prompt + ", sharp, high quality"
}

// NegativePromptText returns the negative prompt with the fixed guard terms
func (p Params) NegativePromptText() string {
	if p.NegativePrompt != "" {
		return "nsfw, nude, " + p.NegativePrompt + ", soft, blurry, ugly, broken, watermark"
	}
	return "nsfw, nude, soft, blurry, ugly, broken, watermark"
}

// Patch returns a new graph with params written into the bound nodes.
// The template is never modified; values are passed through without clamping.
func (t *Template) Patch(p Params) (Graph, error) {
	g, err := t.Graph()
	if err != nil {
		return nil, err
	}
	if err := t.ids.check(g); err != nil {
		return nil, err
	}

	ids := t.ids
	g[ids.SubjectImage].Inputs["image"] = p.SubjectFilename
	g[ids.StyleImage].Inputs["image"] = p.StyleFilename

	loader := g[ids.PromptLoader].Inputs
	loader["positive"] = p.PositivePrompt()
	loader["negative"] = p.NegativePromptText()

	g[ids.DepthControl].Inputs["strength"] = p.ControlDepthStrength
	g[ids.IdentityAdapter].Inputs["weight"] = p.InstantIDStrength

	style := g[ids.StyleAdapter].Inputs
	style["weight"] = p.ImageToBecomeStrength
	style["noise"] = p.ImageToBecomeNoise

	sampler := g[ids.Sampler].Inputs
	sampler["denoise"] = p.DenoisingStrength
	sampler["seed"] = p.Seed
	sampler["cfg"] = p.PromptStrength

	if ids.BatchMultiplier != "" {
		g[ids.BatchMultiplier].Inputs["multiply_by"] = p.NumberOfImages
	}

	return g, nil
}
