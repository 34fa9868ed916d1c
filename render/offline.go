package render

import (
	"context"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
)

// RenderOffline performs the compiled score to completion without a
// realtime sink, as fast as the engine can run. Output lands wherever
// the engine's options direct it, typically a file on the virtual
// filesystem. The final engine result code is returned; cancellation
// aborts between frames.
func (e *Engine) RenderOffline(ctx context.Context) (int32, error) {
	e.mu.Lock()
	cs := e.cs
	busy := e.state.Active()
	e.mu.Unlock()
	if cs == nil {
		return 0, csounderrors.NotInitialized(csounderrors.PhaseStart, "engine instance")
	}
	if busy {
		return 0, csounderrors.InvalidState(csounderrors.PhaseStart, "realtime performance active")
	}

	if err := cs.Start(ctx); err != nil {
		return 0, err
	}
	e.setPlayState(csound.PlayStateRenderStarted)

	var result int32
	for result == 0 {
		select {
		case <-ctx.Done():
			e.setPlayState(csound.PlayStateRenderEnded)
			e.setPlayState(csound.PlayStateStopped)
			return 0, ctx.Err()
		default:
		}
		result = cs.PerformKsmps(ctx)
	}

	e.setPlayState(csound.PlayStateRenderEnded)
	e.setPlayState(csound.PlayStateStopped)
	return result, nil
}
