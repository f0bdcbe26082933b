package pipeline

import "errors"

var (
	// ErrMissingInput is returned when the subject or style image is absent
	ErrMissingInput = errors.New("missing input")

	// ErrUnsupportedFormat is returned when an input image extension is not accepted
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrUnsafeInput is returned when the safety checker flags an input image
	ErrUnsafeInput = errors.New("NSFW content detected in input images")

	// ErrConfiguration is returned when the workflow template does not match the pipeline
	ErrConfiguration = errors.New("workflow configuration error")

	// ErrEngineFailure is returned when the generation engine fails to execute the workflow
	ErrEngineFailure = errors.New("generation engine failure")

	// ErrInvalidParameter is returned when a numeric parameter is outside its declared range
	ErrInvalidParameter = errors.New("invalid parameter")
)
