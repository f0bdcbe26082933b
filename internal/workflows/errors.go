package workflows

import "errors"

var (
	// ErrWorkflowNotFound is returned when a workflow is not registered
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidRequest is returned when the request cannot be served by this worker
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrAsyncDisabled is returned by RunAsync when no DBOS runtime is configured
	ErrAsyncDisabled = errors.New("DBOS runtime not initialized")
)
