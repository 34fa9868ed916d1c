package csound

// PlayState is the lifecycle state of one engine instance. It is the
// single source of truth per instance: transitions are idempotent
// (re-setting the current state is a no-op) and every real transition
// is re-broadcast to all listeners.
type PlayState string

const (
	PlayStateStopped       PlayState = "stopped"
	PlayStateStarted       PlayState = "performanceStarted"
	PlayStateEnded         PlayState = "performanceEnded"
	PlayStatePaused        PlayState = "performancePaused"
	PlayStateResumed       PlayState = "performanceResumed"
	PlayStateRenderStarted PlayState = "renderStarted"
	PlayStateRenderEnded   PlayState = "renderEnded"
)

// Valid reports whether s is one of the defined play states.
func (s PlayState) Valid() bool {
	switch s {
	case PlayStateStopped, PlayStateStarted, PlayStateEnded,
		PlayStatePaused, PlayStateResumed,
		PlayStateRenderStarted, PlayStateRenderEnded:
		return true
	}
	return false
}

// Active reports whether the instance is currently producing audio.
func (s PlayState) Active() bool {
	return s == PlayStateStarted || s == PlayStateResumed || s == PlayStateRenderStarted
}
