package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// ImageRef points at an input image either on the local filesystem or in simple-content
type ImageRef struct {
	Path      string `json:"path,omitempty"`
	ContentID string `json:"content_id,omitempty"`
}

// IsZero reports whether the reference names no image at all
func (r ImageRef) IsZero() bool {
	return r.Path == "" && r.ContentID == ""
}

// PredictRequest represents a request to turn a person into the style of another image
type PredictRequest struct {
	Image                 ImageRef `json:"image"`
	ImageToBecome         ImageRef `json:"image_to_become"`
	Prompt                string   `json:"prompt"`
	NegativePrompt        string   `json:"negative_prompt"`
	NumberOfImages        int      `json:"number_of_images"`
	DenoisingStrength     float64  `json:"denoising_strength"`
	PromptStrength        float64  `json:"prompt_strength"` // CFG scale
	ControlDepthStrength  float64  `json:"control_depth_strength"`
	InstantIDStrength     float64  `json:"instant_id_strength"`
	ImageToBecomeStrength float64  `json:"image_to_become_strength"`
	ImageToBecomeNoise    float64  `json:"image_to_become_noise"`
	Seed                  *int64   `json:"seed,omitempty"`
	DisableSafetyChecker  bool     `json:"disable_safety_checker"`
}

// Parameter defaults and ranges accepted by hosts
const (
	DefaultPrompt                = "a person"
	DefaultNumberOfImages        = 2
	DefaultDenoisingStrength     = 1.0
	DefaultPromptStrength        = 2.0
	DefaultControlDepthStrength  = 0.8
	DefaultInstantIDStrength     = 1.0
	DefaultImageToBecomeStrength = 0.75
	DefaultImageToBecomeNoise    = 0.3

	MinNumberOfImages = 1
	MaxNumberOfImages = 10
	MaxPromptStrength = 3.0
)

// NewPredictRequest returns a request populated with the default parameters
func NewPredictRequest() PredictRequest {
	return PredictRequest{
		Prompt:                DefaultPrompt,
		NumberOfImages:        DefaultNumberOfImages,
		DenoisingStrength:     DefaultDenoisingStrength,
		PromptStrength:        DefaultPromptStrength,
		ControlDepthStrength:  DefaultControlDepthStrength,
		InstantIDStrength:     DefaultInstantIDStrength,
		ImageToBecomeStrength: DefaultImageToBecomeStrength,
		ImageToBecomeNoise:    DefaultImageToBecomeNoise,
	}
}

// CheckImages returns ErrMissingInput naming every missing image
func (r *PredictRequest) CheckImages() error {
	var missing []string
	if r.Image.IsZero() {
		missing = append(missing, "image")
	}
	if r.ImageToBecome.IsZero() {
		missing = append(missing, "image_to_become")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: no %s provided", ErrMissingInput, strings.Join(missing, " and "))
	}
	return nil
}

// Validate checks image presence and the declared parameter ranges.
// The graph patcher passes values through unmodified, so hosts call this first.
func (r *PredictRequest) Validate() error {
	if err := r.CheckImages(); err != nil {
		return err
	}

	if r.NumberOfImages < MinNumberOfImages || r.NumberOfImages > MaxNumberOfImages {
		return fmt.Errorf("%w: number_of_images must be between %d and %d, got %d",
			ErrInvalidParameter, MinNumberOfImages, MaxNumberOfImages, r.NumberOfImages)
	}

	unit := []struct {
		name  string
		value float64
	}{
		{"denoising_strength", r.DenoisingStrength},
		{"control_depth_strength", r.ControlDepthStrength},
		{"instant_id_strength", r.InstantIDStrength},
		{"image_to_become_strength", r.ImageToBecomeStrength},
		{"image_to_become_noise", r.ImageToBecomeNoise},
	}
	for _, p := range unit {
		if math.IsNaN(p.value) || p.value < 0 || p.value > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %v", ErrInvalidParameter, p.name, p.value)
		}
	}

	if math.IsNaN(r.PromptStrength) || r.PromptStrength < 0 || r.PromptStrength > MaxPromptStrength {
		return fmt.Errorf("%w: prompt_strength must be between 0 and %v, got %v",
			ErrInvalidParameter, MaxPromptStrength, r.PromptStrength)
	}

	return nil
}

// PredictResponse is returned once a prediction has finished
type PredictResponse struct {
	RunID   string   `json:"run_id"`
	Seed    int64    `json:"seed"`
	Outputs []string `json:"outputs"`
}

// EnqueueResponse is returned when a prediction was queued for a worker
type EnqueueResponse struct {
	RunID string `json:"run_id"`
}

// Asset roles
const (
	RoleInputSubject = "input-subject"
	RoleInputStyle   = "input-style"
	RoleOutput       = "output"
)

// Asset is a file produced or consumed by one prediction
type Asset struct {
	Path string `json:"path"`
	Role string `json:"role"`
	Rel  string `json:"rel,omitempty"` // path relative to the workspace root
}

// JobType constants
const (
	JobBecomeImage = "become_image"
)

// DerivedType constants (match simple-content conventions)
const (
	DerivedTypeBecomeImage = "become_image"
)
