package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
	"github.com/jamestiotio/csound/transport"
)

// Instance is the application-side proxy for one realm-hosted engine.
// Lifecycle calls are forwarded over the control proxy; play-state
// transitions, log lines and the node announcement arrive on the
// instance's event port and are re-broadcast to local listeners.
type Instance struct {
	uid    string
	bridge *Bridge
	caller *transport.Caller
	events *transport.Port

	terminated atomic.Bool

	mu        sync.Mutex
	state     csound.PlayState
	node      any
	listeners []func(csound.Message)
}

// ContextUID returns the instance's realm-wide identifier.
func (i *Instance) ContextUID() string { return i.uid }

// PlayState returns the locally mirrored lifecycle state.
func (i *Instance) PlayState() csound.PlayState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Node returns the host audio node announced by the realm, if any.
func (i *Instance) Node() any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.node
}

// AddListener registers a handler for this instance's message traffic.
func (i *Instance) AddListener(fn func(csound.Message)) {
	if fn == nil {
		return
	}
	i.mu.Lock()
	i.listeners = append(i.listeners, fn)
	i.mu.Unlock()
}

// OnPlayStateChange registers a handler for play-state transitions
// only, after deduplication.
func (i *Instance) OnPlayStateChange(fn func(csound.PlayState)) {
	if fn == nil {
		return
	}
	i.AddListener(func(m csound.Message) {
		if m.Kind == csound.KindPlayState {
			fn(m.PlayState)
		}
	})
}

func (i *Instance) dispatch(m csound.Message) {
	i.mu.Lock()
	ls := make([]func(csound.Message), len(i.listeners))
	copy(ls, i.listeners)
	i.mu.Unlock()
	m.ContextUID = i.uid
	for _, fn := range ls {
		fn(m)
	}
}

// setState mirrors one transition locally. The start acknowledgment
// and the realm's own performanceStarted event both funnel through
// here, so whichever arrives second is dropped.
func (i *Instance) setState(s csound.PlayState) {
	i.mu.Lock()
	if i.state == s {
		i.mu.Unlock()
		return
	}
	i.state = s
	i.mu.Unlock()
	i.dispatch(csound.Message{Kind: csound.KindPlayState, PlayState: s})
}

func (i *Instance) onEvent(v any) {
	m, ok := v.(csound.Message)
	if !ok {
		return
	}
	switch m.Kind {
	case csound.KindStartAck:
		i.setState(csound.PlayStateStarted)
	case csound.KindPlayState:
		if m.PlayState == csound.PlayStateEnded {
			i.mu.Lock()
			i.node = nil
			i.mu.Unlock()
		}
		i.setState(m.PlayState)
	case csound.KindNodeCreated:
		i.mu.Lock()
		i.node = m.Node
		i.mu.Unlock()
		i.dispatch(m)
	case csound.KindLog:
		i.dispatch(m)
	}
}

func (i *Instance) call(ctx context.Context, method string, args any) (any, error) {
	if i.terminated.Load() {
		return nil, csounderrors.Closed(csounderrors.PhaseBridge, "instance "+i.uid)
	}
	return i.caller.Call(ctx, method, args)
}

// Start begins a performance. It returns once the realm acknowledges
// that the render loop is live.
func (i *Instance) Start(ctx context.Context) error {
	_, err := i.call(ctx, "start", uidArgs{UID: i.uid})
	return err
}

// Stop ends the performance and returns the engine's result code.
func (i *Instance) Stop(ctx context.Context) (int32, error) {
	v, err := i.call(ctx, "stop", uidArgs{UID: i.uid})
	if err != nil {
		return 0, err
	}
	result, _ := v.(int32)
	return result, nil
}

// Pause suspends the realm-side render loop.
func (i *Instance) Pause(ctx context.Context) error {
	_, err := i.call(ctx, "pause", uidArgs{UID: i.uid})
	return err
}

// Resume continues a paused performance.
func (i *Instance) Resume(ctx context.Context) error {
	_, err := i.call(ctx, "resume", uidArgs{UID: i.uid})
	return err
}

// Reset returns the engine to its pre-compile state.
func (i *Instance) Reset(ctx context.Context) error {
	_, err := i.call(ctx, "reset", uidArgs{UID: i.uid})
	return err
}

// SetOption passes a raw option to the engine.
func (i *Instance) SetOption(ctx context.Context, option string) error {
	_, err := i.call(ctx, "setOption", textArgs{UID: i.uid, Text: option})
	return err
}

// CompileOrc compiles orchestra code.
func (i *Instance) CompileOrc(ctx context.Context, orc string) error {
	_, err := i.call(ctx, "compileOrc", textArgs{UID: i.uid, Text: orc})
	return err
}

// ReadScore schedules score text.
func (i *Instance) ReadScore(ctx context.Context, sco string) error {
	_, err := i.call(ctx, "readScore", textArgs{UID: i.uid, Text: sco})
	return err
}

// RenderOffline performs the compiled score to completion without a
// realtime sink.
func (i *Instance) RenderOffline(ctx context.Context) (int32, error) {
	v, err := i.call(ctx, "renderOffline", uidArgs{UID: i.uid})
	if err != nil {
		return 0, err
	}
	result, _ := v.(int32)
	return result, nil
}

// PushMIDI forwards one MIDI message to the realm-side engine.
func (i *Instance) PushMIDI(ctx context.Context, msg midi.Message) error {
	raw := msg.Bytes()
	if len(raw) == 0 || len(raw) > 3 {
		return csounderrors.InvalidInput(csounderrors.PhaseBridge, "message must be 1 to 3 bytes")
	}
	var b [3]byte
	copy(b[:], raw)
	_, err := i.call(ctx, "pushMidiMessage", midiArgs{
		UID:    i.uid,
		Status: b[0],
		Data1:  b[1],
		Data2:  b[2],
	})
	return err
}

// WriteToFS writes into the instance's virtual filesystem.
func (i *Instance) WriteToFS(ctx context.Context, name string, data []byte) error {
	_, err := i.call(ctx, "writeToFS", fileArgs{UID: i.uid, Name: name, Data: data})
	return err
}

// ReadFromFS reads from the instance's virtual filesystem.
func (i *Instance) ReadFromFS(ctx context.Context, name string) ([]byte, error) {
	v, err := i.call(ctx, "readFromFS", fileArgs{UID: i.uid, Name: name})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// ListFS lists a directory of the instance's virtual filesystem.
func (i *Instance) ListFS(ctx context.Context, dir string) ([]string, error) {
	v, err := i.call(ctx, "listFS", fileArgs{UID: i.uid, Name: dir})
	if err != nil {
		return nil, err
	}
	names, _ := v.([]string)
	return names, nil
}

// TerminateInstance releases the realm-side engine, closes the event
// channel and unregisters the instance. Terminating the last instance
// tears the shared realm down. Safe to call more than once.
func (i *Instance) TerminateInstance(ctx context.Context) error {
	if i.terminated.Swap(true) {
		return nil
	}
	_, err := i.caller.Call(ctx, "terminateInstance", uidArgs{UID: i.uid})
	i.events.Close()
	i.bridge.release(ctx, i)

	i.mu.Lock()
	i.node = nil
	i.state = csound.PlayStateStopped
	i.listeners = nil
	i.mu.Unlock()
	return err
}
