package session

// Phase is a live session's activity state.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseStarting     Phase = "starting"
	PhaseIdle         Phase = "idle"
	PhaseThinking     Phase = "thinking"
	PhaseExecuting    Phase = "executing"
	PhaseError        Phase = "error"
)

// Working reports whether the agent is mid-turn.
func (p Phase) Working() bool {
	return p == PhaseThinking || p == PhaseExecuting
}

// Healthy reports whether the phase is neither error nor disconnected.
func (p Phase) Healthy() bool {
	return p != PhaseError && p != PhaseDisconnected
}
