package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
	"github.com/jamestiotio/csound/render"
	"github.com/jamestiotio/csound/transport"
)

// NewEngineFunc constructs the realm-side engine for one instance.
// The default is render.Initialize; tests substitute a factory that
// wraps a fake engine.
type NewEngineFunc func(ctx context.Context, cfg render.Config) (*render.Engine, error)

// Wire argument types for the control proxy. The transport is
// in-process, so event ports travel by reference the way message ports
// are transferred between real execution contexts.
type initializeArgs struct {
	UID    string
	Config render.Config
	Events *transport.Port
}

type uidArgs struct {
	UID string
}

type textArgs struct {
	UID  string
	Text string
}

type fileArgs struct {
	UID  string
	Name string
	Data []byte
}

type midiArgs struct {
	UID    string
	Status byte
	Data1  byte
	Data2  byte
}

// Realm hosts engine instances on behalf of a Bridge. It owns the
// registry from context UID to the instance's engine and event port;
// nothing escapes the realm except messages on those ports.
type Realm struct {
	log     *zap.Logger
	factory NewEngineFunc
	ready   chan struct{}

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

type slot struct {
	engine *render.Engine
	events *transport.Port
}

// NewRealm creates an empty realm. A nil factory selects
// render.Initialize.
func NewRealm(factory NewEngineFunc, log *zap.Logger) *Realm {
	if factory == nil {
		factory = render.Initialize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Realm{
		log:     log,
		factory: factory,
		ready:   make(chan struct{}),
		slots:   make(map[string]*slot),
	}
}

// Ready is closed once the realm's control surface is bound.
func (r *Realm) Ready() <-chan struct{} { return r.ready }

// Bind attaches the realm's method handlers to its side of the control
// port pair and signals readiness.
func (r *Realm) Bind(port *transport.Port) *transport.Responder {
	resp := transport.NewResponder(port)
	resp.Handle("initialize", r.handleInitialize)
	resp.Handle("start", r.handleStart)
	resp.Handle("stop", r.handleStop)
	resp.Handle("pause", r.handlePause)
	resp.Handle("resume", r.handleResume)
	resp.Handle("reset", r.handleReset)
	resp.Handle("setOption", r.handleSetOption)
	resp.Handle("compileOrc", r.handleCompileOrc)
	resp.Handle("readScore", r.handleReadScore)
	resp.Handle("renderOffline", r.handleRenderOffline)
	resp.Handle("pushMidiMessage", r.handlePushMIDI)
	resp.Handle("writeToFS", r.handleWriteToFS)
	resp.Handle("readFromFS", r.handleReadFromFS)
	resp.Handle("listFS", r.handleListFS)
	resp.Handle("terminateInstance", r.handleTerminate)
	close(r.ready)
	return resp
}

func (r *Realm) lookup(args any) (*slot, string, error) {
	var uid string
	switch a := args.(type) {
	case uidArgs:
		uid = a.UID
	case textArgs:
		uid = a.UID
	case fileArgs:
		uid = a.UID
	case midiArgs:
		uid = a.UID
	default:
		return nil, "", csounderrors.InvalidInput(csounderrors.PhaseBridge, "malformed proxy arguments")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[uid]
	if !ok {
		return nil, uid, csounderrors.NotFound(csounderrors.PhaseBridge, "instance", uid)
	}
	return s, uid, nil
}

func (r *Realm) handleInitialize(ctx context.Context, args any) (any, error) {
	a, ok := args.(initializeArgs)
	if !ok {
		return nil, csounderrors.InvalidInput(csounderrors.PhaseBridge, "malformed initialize arguments")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, csounderrors.Closed(csounderrors.PhaseBridge, "realm")
	}
	if _, exists := r.slots[a.UID]; exists {
		r.mu.Unlock()
		return nil, csounderrors.InvalidState(csounderrors.PhaseBridge, "instance "+a.UID+" already exists")
	}
	r.mu.Unlock()

	engine, err := r.factory(ctx, a.Config)
	if err != nil {
		r.log.Error("no synthesis engine could be constructed",
			zap.String("uid", a.UID), zap.Error(err))
		return nil, err
	}
	events := a.Events
	engine.AddListener(func(m csound.Message) {
		_ = events.Post(m)
	})

	r.mu.Lock()
	r.slots[a.UID] = &slot{engine: engine, events: events}
	r.mu.Unlock()
	return nil, nil
}

func (r *Realm) handleStart(ctx context.Context, args any) (any, error) {
	s, uid, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Start(ctx); err != nil {
		return nil, err
	}
	// Readiness is acknowledged explicitly once the loop is live.
	_ = s.events.Post(csound.Message{Kind: csound.KindStartAck, ContextUID: uid})
	return nil, nil
}

func (r *Realm) handleStop(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return s.engine.Stop(ctx)
}

func (r *Realm) handlePause(_ context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	s.engine.Pause()
	return nil, nil
}

func (r *Realm) handleResume(_ context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	s.engine.Resume()
	return nil, nil
}

func (r *Realm) handleReset(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.Reset(ctx)
}

func (r *Realm) handleSetOption(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.SetOption(ctx, args.(textArgs).Text)
}

func (r *Realm) handleCompileOrc(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.CompileOrc(ctx, args.(textArgs).Text)
}

func (r *Realm) handleReadScore(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.ReadScore(ctx, args.(textArgs).Text)
}

func (r *Realm) handleRenderOffline(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return s.engine.RenderOffline(ctx)
}

func (r *Realm) handlePushMIDI(ctx context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	a := args.(midiArgs)
	return nil, s.engine.PushMIDIRaw(ctx, a.Status, a.Data1, a.Data2)
}

func (r *Realm) handleWriteToFS(_ context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	a := args.(fileArgs)
	return nil, s.engine.WriteToFS(a.Name, a.Data)
}

func (r *Realm) handleReadFromFS(_ context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return s.engine.ReadFromFS(args.(fileArgs).Name)
}

func (r *Realm) handleListFS(_ context.Context, args any) (any, error) {
	s, _, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	return s.engine.ListFS(args.(fileArgs).Name)
}

func (r *Realm) handleTerminate(ctx context.Context, args any) (any, error) {
	s, uid, err := r.lookup(args)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	delete(r.slots, uid)
	r.mu.Unlock()

	terr := s.engine.TerminateInstance(ctx)
	s.events.Close()
	return nil, terr
}

// Close terminates every hosted instance and rejects further
// initialization.
func (r *Realm) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		if err := s.engine.TerminateInstance(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.events.Close()
	}
	return firstErr
}
