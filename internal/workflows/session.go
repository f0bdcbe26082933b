package workflows

import (
	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Phase is a step of one prediction's lifecycle
type Phase string

// Phases in execution order; FAILED is reachable from any of them.
// A run enters a phase when that phase's work starts, so a failure reports the phase in progress.
const (
	PhaseReset       Phase = "RESET"
	PhaseInputsReady Phase = "INPUTS_READY"
	PhaseSafetyPre   Phase = "SAFETY_PRE"
	PhaseGraphReady  Phase = "GRAPH_READY"
	PhaseSubmitted   Phase = "SUBMITTED"
	PhaseRunning     Phase = "RUNNING"
	PhaseComplete    Phase = "COMPLETE"
	PhaseSafetyPost  Phase = "SAFETY_POST"
	PhaseDone        Phase = "DONE"
	PhaseFailed      Phase = "FAILED"
)

// SessionState is owned by a single Execute call and discarded afterwards
type SessionState struct {
	Phase   Phase
	Seed    *int64
	Inputs  []pipeline.Asset
	Outputs []pipeline.Asset
	Dropped int

	logger zerolog.Logger
}

func newSessionState(logger zerolog.Logger) *SessionState {
	return &SessionState{logger: logger}
}

func (s *SessionState) enter(p Phase) {
	s.Phase = p
	s.logger.Debug().Str("phase", string(p)).Msg("Entering phase")
}

// fail moves to FAILED and returns the phase that failed
func (s *SessionState) fail(err error) Phase {
	failed := s.Phase
	s.Phase = PhaseFailed
	s.logger.Error().Err(err).Str("phase", string(failed)).Msg("Workflow failed")
	return failed
}
