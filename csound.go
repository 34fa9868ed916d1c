package csound

import "context"

// Memory is a window provider over the engine's linear memory.
// Views are live: they alias engine memory and become detached when the
// memory grows. A detached or out-of-range view reads as empty, which
// callers treat as a signal to re-acquire from current buffer pointers.
type Memory interface {
	// View returns length bytes starting at offset, or an empty slice
	// when the region is no longer addressable.
	View(offset, length uint32) []byte

	// Size returns the current linear memory size in bytes.
	Size() uint32
}

// Engine is the opaque synthesis engine API consumed by the render
// loop. Implementations wrap one engine instance; the instance's linear
// memory is exclusively owned by its caller.
//
// PerformKsmps is the only method invoked from the real-time audio
// callback and must not allocate or block. Everything else is staged
// from Start/Stop on a regular goroutine.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error

	// SetOption passes a command-line option (e.g. "-odac") to the
	// engine before Start.
	SetOption(ctx context.Context, option string) error
	CompileOrc(ctx context.Context, orc string) error
	ReadScore(ctx context.Context, sco string) error

	// PerformKsmps renders one ksmps frame. Zero means more frames
	// follow; any other value signals end of performance.
	PerformKsmps(ctx context.Context) int32

	// Ksmps is the engine's fixed internal frame size in samples.
	Ksmps(ctx context.Context) (uint32, error)
	Nchnls(ctx context.Context) (uint32, error)
	NchnlsInput(ctx context.Context) (uint32, error)

	// ZeroDBFS is the full-scale amplitude constant used to convert
	// between host float samples (±1.0) and engine internal units.
	ZeroDBFS(ctx context.Context) (float64, error)

	// SpoutPtr and SpinPtr return the current byte offsets of the
	// engine's output and input sample buffers in linear memory. They
	// must be re-read after a view detaches.
	SpoutPtr(ctx context.Context) (uint32, error)
	SpinPtr(ctx context.Context) (uint32, error)

	Memory() Memory
	Close(ctx context.Context) error
}

// MIDISink is implemented by engines whose image exports a raw MIDI
// entry point.
type MIDISink interface {
	PushMIDI(ctx context.Context, status, data1, data2 byte) error
}

// FileSystem is the engine's virtual filesystem surface, exposed as
// passthroughs on the render engine's capability object.
type FileSystem interface {
	WriteToFS(name string, data []byte) error
	ReadFromFS(name string) ([]byte, error)
	ListFS(dir string) ([]string, error)
}
