package render

import (
	"context"

	"gitlab.com/gomidi/midi/v2"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
)

// PushMIDI forwards one MIDI message to the engine's realtime input.
// Messages shorter than three bytes are zero-padded; longer ones
// (sysex) are unsupported.
func (e *Engine) PushMIDI(ctx context.Context, msg midi.Message) error {
	raw := msg.Bytes()
	if len(raw) == 0 || len(raw) > 3 {
		return csounderrors.InvalidInput(csounderrors.PhasePerform, "message must be 1 to 3 bytes")
	}
	var b [3]byte
	copy(b[:], raw)
	return e.PushMIDIRaw(ctx, b[0], b[1], b[2])
}

// PushMIDIRaw forwards an already-packed three-byte message.
func (e *Engine) PushMIDIRaw(ctx context.Context, status, data1, data2 byte) error {
	e.mu.Lock()
	cs := e.cs
	e.mu.Unlock()
	if cs == nil {
		return csounderrors.NotInitialized(csounderrors.PhasePerform, "engine instance")
	}
	sink, ok := cs.(csound.MIDISink)
	if !ok {
		return csounderrors.Unsupported(csounderrors.PhasePerform, "engine has no MIDI input")
	}
	return sink.PushMIDI(ctx, status, data1, data2)
}
