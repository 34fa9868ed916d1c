package render

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	"github.com/jamestiotio/csound/engine"
	csounderrors "github.com/jamestiotio/csound/errors"
)

// Engine reconciles the host audio callback with one synthesis engine
// instance. It is the capability surface returned by Initialize:
// lifecycle methods, renamed engine primitives, filesystem
// passthroughs and the message listener registration.
//
// Process is the only method that runs on the real-time callback
// goroutine; everything it needs is staged by Start.
type Engine struct {
	cs  csound.Engine
	fs  csound.FileSystem
	log *zap.Logger
	cfg Config
	uid string

	sess    atomic.Pointer[session]
	running atomic.Bool // false while paused or stopped
	started atomic.Bool // set by the loop's first active callback

	mu            sync.Mutex
	state         csound.PlayState
	listeners     []func(csound.Message)
	nodeAnnounced bool

	actx     *AudioContext
	ownsCtx  bool
	node     *Node
	watcher  *streamWatcher
	msgR     *io.PipeReader
	msgW     *io.PipeWriter
	finished bool
}

// New wires an Engine around an already-constructed synthesis engine.
// Initialize is the usual entry point; New exists for realm hosting
// and for tests that substitute the engine.
func New(cs csound.Engine, cfg Config, log *zap.Logger) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = cfg.Logger
	}
	e := &Engine{
		cs:    cs,
		log:   log,
		cfg:   cfg,
		uid:   cfg.ContextUID,
		state: csound.PlayStateStopped,
	}
	if fsys, ok := cs.(csound.FileSystem); ok {
		e.fs = fsys
	}
	return e
}

// Initialize loads the WASM image, creates the engine instance and, if
// requested, connects it to the host output sink. Failure to construct
// a synthesis engine is non-fatal for the process: it is logged and
// nothing usable is returned.
func Initialize(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	log := cfg.Logger

	fsys := engine.NewMemFS()
	msgR, msgW := io.Pipe()

	cs, err := engine.Load(ctx, cfg.WasmImage, engine.Config{
		Plugins:       cfg.WithPlugins,
		FS:            fsys,
		MessageOutput: msgW,
	})
	if err != nil {
		log.Error("no synthesis engine could be constructed", zap.Error(err))
		msgW.Close()
		return nil, err
	}

	e := New(cs, cfg, log)
	e.fs = fsys
	e.msgR = msgR
	e.msgW = msgW
	e.watcher = newStreamWatcher(msgR, func(line string) {
		e.emit(csound.Message{Kind: csound.KindLog, Text: line})
	})

	if cfg.AutoConnect {
		if err := e.connect(); err != nil {
			e.TerminateInstance(ctx)
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) connect() error {
	actx := e.cfg.AudioContext
	if e.cfg.AudioContextProvided {
		if actx == nil || actx.Closed() {
			e.log.Error("fatal: provided audio context was undefined/closed")
			return csounderrors.Closed(csounderrors.PhaseStart, "provided audio context")
		}
	} else if actx == nil {
		created, err := NewAudioContext(e.cfg.SampleRate, e.cfg.OutputChannelCount, e.cfg.HardwareBufferSize)
		if err != nil {
			e.log.Error("audio context creation failed", zap.Error(err))
			return err
		}
		actx = created
		e.ownsCtx = true
	}

	node, err := actx.Connect(e)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.actx = actx
	e.node = node
	e.mu.Unlock()
	return nil
}

// AddListener registers a handler for "message" traffic: play-state
// transitions, engine log lines and the audio-node-created event.
func (e *Engine) AddListener(fn func(csound.Message)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// emit delivers m to every listener, stamping the instance UID.
func (e *Engine) emit(m csound.Message) {
	e.mu.Lock()
	ls := make([]func(csound.Message), len(e.listeners))
	copy(ls, e.listeners)
	e.mu.Unlock()
	m.ContextUID = e.uid
	for _, fn := range ls {
		fn(m)
	}
}

// setPlayState applies one transition. Re-setting the current state is
// a no-op; a real transition is re-broadcast to every listener.
func (e *Engine) setPlayState(s csound.PlayState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.emit(csound.Message{Kind: csound.KindPlayState, PlayState: s})
}

// PlayState returns the instance's current lifecycle state.
func (e *Engine) PlayState() csound.PlayState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start stages the render session and suspends until the render loop
// itself reaches performanceStarted. Call-return of the engine's start
// primitive is not readiness: the engine's own boot sequence decides
// when the loop first produces audio.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cs == nil {
		e.mu.Unlock()
		e.log.Error("starting failed - instance not created")
		return csounderrors.NotInitialized(csounderrors.PhaseStart, "engine instance")
	}
	if e.state.Active() || e.state == csound.PlayStatePaused {
		e.mu.Unlock()
		return csounderrors.InvalidState(csounderrors.PhaseStart, "already performing")
	}
	cs := e.cs
	e.mu.Unlock()

	e.stageOptions(ctx, cs)

	sess, err := newSession(ctx, cs)
	if err != nil {
		return csounderrors.Wrap(csounderrors.PhaseStart, csounderrors.KindInstantiation, err, "stage render session")
	}

	e.mu.Lock()
	if e.watcher != nil {
		e.watcher.begin()
	}
	e.mu.Unlock()

	if err := cs.Start(ctx); err != nil {
		return err
	}

	// Re-snapshot: the engine allocates its buffers during start.
	sess.acquire()

	e.sess.Store(sess)
	e.started.Store(false)
	e.running.Store(true)
	e.announceNode()

	select {
	case <-sess.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) stageOptions(ctx context.Context, cs csound.Engine) {
	// Device aliases and sample rate, matching the host configuration.
	for _, opt := range e.options() {
		if err := cs.SetOption(ctx, opt); err != nil {
			e.log.Warn("engine rejected option", zap.String("option", opt), zap.Error(err))
		}
	}
}

func (e *Engine) options() []string {
	return []string{
		"-odac",
		"-iadc",
		"--sample-rate=" + strconv.Itoa(e.cfg.SampleRate),
	}
}

// announceNode fires audioNodeCreated once per instance, on the first
// performance that has a connected node.
func (e *Engine) announceNode() {
	e.mu.Lock()
	node := e.node
	fire := node != nil && !e.nodeAnnounced
	if fire {
		e.nodeAnnounced = true
	}
	e.mu.Unlock()
	if fire {
		e.emit(csound.Message{Kind: csound.KindNodeCreated, Node: node})
	}
}

// engine returns the live synthesis engine or a not-initialized error
// after termination.
func (e *Engine) engine() (csound.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cs == nil {
		return nil, csounderrors.NotInitialized(csounderrors.PhasePerform, "engine instance")
	}
	return e.cs, nil
}

// Stop invokes the engine's stop primitive and waits for the render
// loop to observe and acknowledge termination before releasing the
// session. It returns the engine's result code.
func (e *Engine) Stop(ctx context.Context) (int32, error) {
	cs, err := e.engine()
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	if !st.Active() && st != csound.PlayStatePaused {
		return 0, csounderrors.InvalidState(csounderrors.PhaseStart, "not performing")
	}
	sess := e.sess.Load()
	if sess == nil {
		return 0, csounderrors.NotInitialized(csounderrors.PhaseStart, "render session")
	}

	if err := cs.Stop(ctx); err != nil {
		return 0, err
	}
	// A paused loop cannot observe termination; let it run again.
	e.running.Store(true)

	var result int32
	select {
	case result = <-sess.stopped:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	e.releaseSession()
	e.setPlayState(csound.PlayStateStopped)
	return result, nil
}

// releaseSession drops buffers first, then quiets the watcher.
func (e *Engine) releaseSession() {
	e.running.Store(false)
	e.started.Store(false)
	e.sess.Store(nil)
	e.mu.Lock()
	if e.watcher != nil {
		e.watcher.end()
	}
	e.mu.Unlock()
}

// Pause suspends the render loop without tearing down session state.
// The frame cursor is untouched.
func (e *Engine) Pause() {
	e.mu.Lock()
	active := e.state == csound.PlayStateStarted || e.state == csound.PlayStateResumed
	e.mu.Unlock()
	if !active {
		return
	}
	e.running.Store(false)
	e.setPlayState(csound.PlayStatePaused)
}

// Resume lets a paused render loop continue from the same cursor.
func (e *Engine) Resume() {
	e.mu.Lock()
	paused := e.state == csound.PlayStatePaused
	e.mu.Unlock()
	if !paused {
		return
	}
	e.running.Store(true)
	e.setPlayState(csound.PlayStateResumed)
}

// Reset returns the engine to its pre-compile state.
func (e *Engine) Reset(ctx context.Context) error {
	cs, err := e.engine()
	if err != nil {
		return err
	}
	e.releaseSession()
	return cs.Reset(ctx)
}

// SetOption passes a raw option to the engine.
func (e *Engine) SetOption(ctx context.Context, option string) error {
	cs, err := e.engine()
	if err != nil {
		return err
	}
	return cs.SetOption(ctx, option)
}

// CompileOrc compiles orchestra code.
func (e *Engine) CompileOrc(ctx context.Context, orc string) error {
	cs, err := e.engine()
	if err != nil {
		return err
	}
	return cs.CompileOrc(ctx, orc)
}

// ReadScore schedules score text.
func (e *Engine) ReadScore(ctx context.Context, sco string) error {
	cs, err := e.engine()
	if err != nil {
		return err
	}
	return cs.ReadScore(ctx, sco)
}

// WriteToFS writes into the engine's virtual filesystem.
func (e *Engine) WriteToFS(name string, data []byte) error {
	if e.fs == nil {
		return csounderrors.Unsupported(csounderrors.PhaseFS, "engine has no filesystem")
	}
	return e.fs.WriteToFS(name, data)
}

// ReadFromFS reads from the engine's virtual filesystem.
func (e *Engine) ReadFromFS(name string) ([]byte, error) {
	if e.fs == nil {
		return nil, csounderrors.Unsupported(csounderrors.PhaseFS, "engine has no filesystem")
	}
	return e.fs.ReadFromFS(name)
}

// ListFS lists the engine's virtual filesystem.
func (e *Engine) ListFS(dir string) ([]string, error) {
	if e.fs == nil {
		return nil, csounderrors.Unsupported(csounderrors.PhaseFS, "engine has no filesystem")
	}
	return e.fs.ListFS(dir)
}

// Process is the render loop, invoked once per host buffer. The host
// buffer size may differ from ksmps; the cursor carries across
// invocations. It never blocks and performs no unbounded allocation.
func (e *Engine) Process(input, output [][]float32) {
	s := e.sess.Load()
	if s == nil || !e.running.Load() {
		zeroFill(output)
		return
	}

	if !e.started.Load() {
		e.started.Store(true)
		e.setPlayState(csound.PlayStateStarted)
		close(s.started)
	}

	frames := 0
	if len(output) > 0 {
		frames = len(output[0])
	} else if len(input) > 0 {
		frames = len(input[0])
	}

	cnt := s.cnt
	result := s.result
	plan := planFor(s.nchnls, len(output))
	mem := s.cs.Memory()

	for i := 0; i < frames; i++ {
		if result != 0 {
			for ch := range output {
				output[ch][i] = 0
			}
			continue
		}

		if s.stale(mem) {
			s.acquire()
		}

		nin := s.nchnlsIn
		if nin > len(input) {
			nin = len(input)
		}
		for ch := 0; ch < nin; ch++ {
			s.spinSet(int(cnt)*s.nchnlsIn+ch, float64(input[ch][i])*s.zeroDBFS)
		}

		base := int(cnt) * s.nchnls
		switch plan {
		case mixCopy:
			for ch := range output {
				output[ch][i] = float32(s.spoutAt(base+ch) / s.zeroDBFS)
			}
		case mixDownmix:
			left := s.spoutAt(base)
			right := s.spoutAt(base + 1)
			output[0][i] = float32(0.5 * (left + right) / s.zeroDBFS)
		case mixUpmix:
			mono := float32(s.spoutAt(base) / s.zeroDBFS)
			output[0][i] = mono
			output[1][i] = mono
		case mixUnsupported:
			// Layouts outside {1,2}x{1,2} are skipped. Documented
			// limitation, not an error.
		}

		cnt++
		if cnt == s.ksmps {
			cnt = 0
			if r := s.cs.PerformKsmps(s.ctx); r != 0 {
				result = r
				e.started.Store(false)
				e.running.Store(false)
				e.setPlayState(csound.PlayStateEnded)
				select {
				case s.stopped <- r:
				default:
				}
			}
		}
	}

	s.cnt = cnt
	s.result = result
}

func zeroFill(output [][]float32) {
	for ch := range output {
		buf := output[ch]
		for i := range buf {
			buf[i] = 0
		}
	}
}

// TerminateInstance releases everything in a fixed order: buffers,
// watchers, node and audio context, then the engine itself. It is safe
// at any lifecycle point, including before Initialize completed, and
// skips resources that were never created.
func (e *Engine) TerminateInstance(ctx context.Context) error {
	e.running.Store(false)
	e.started.Store(false)
	e.sess.Store(nil)

	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return nil
	}
	e.finished = true
	watcher := e.watcher
	msgW := e.msgW
	node := e.node
	actx := e.actx
	owns := e.ownsCtx
	cs := e.cs
	e.watcher = nil
	e.msgW = nil
	e.msgR = nil
	e.node = nil
	e.actx = nil
	e.cs = nil
	e.listeners = nil
	e.state = csound.PlayStateStopped
	e.mu.Unlock()

	if watcher != nil {
		watcher.end()
	}
	if msgW != nil {
		msgW.Close()
	}
	if node != nil {
		node.Disconnect()
	}
	if actx != nil && owns {
		actx.Close()
	}
	if cs != nil {
		return cs.Close(ctx)
	}
	return nil
}
