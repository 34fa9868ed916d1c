package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
	"github.com/jamestiotio/csound/render"
	"github.com/jamestiotio/csound/transport"
)

const defaultReadyTimeout = 2 * time.Second

// Options configures a Bridge. The zero value is usable.
type Options struct {
	Logger *zap.Logger

	// ReadyTimeout bounds the wait for realm creation.
	ReadyTimeout time.Duration

	// NewEngine overrides the realm-side engine factory.
	NewEngine NewEngineFunc
}

// Bridge is the application-side entry point. It owns the shared
// realm, the control proxy and the UID allocator; instances it hands
// out proxy every lifecycle call across the realm boundary.
type Bridge struct {
	log     *zap.Logger
	timeout time.Duration
	factory NewEngineFunc

	mu        sync.Mutex
	realm     *Realm
	caller    *transport.Caller
	instances map[string]*Instance
	nextUID   uint64
}

// New creates a Bridge. The realm is not spun up until the first
// Initialize.
func New(opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := opts.ReadyTimeout
	if timeout == 0 {
		timeout = defaultReadyTimeout
	}
	return &Bridge{
		log:       log,
		timeout:   timeout,
		factory:   opts.NewEngine,
		instances: make(map[string]*Instance),
	}
}

// ensureRealm spins up the shared realm on first use. Callers hold
// b.mu.
func (b *Bridge) ensureRealm() error {
	if b.realm != nil {
		return nil
	}
	realm := NewRealm(b.factory, b.log)
	ctrlLocal, ctrlRemote := transport.Pipe()
	go realm.Bind(ctrlRemote)

	select {
	case <-realm.Ready():
	case <-time.After(b.timeout):
		ctrlLocal.Close()
		ctrlRemote.Close()
		b.log.Error("couldn't create isolated realm")
		return csounderrors.Timeout(csounderrors.PhaseBridge, "realm creation")
	}

	b.realm = realm
	b.caller = transport.NewCaller(ctrlLocal)
	return nil
}

// Initialize creates one engine instance inside the realm and returns
// its proxy. The instance's context UID scopes all of its traffic.
func (b *Bridge) Initialize(ctx context.Context, cfg render.Config) (*Instance, error) {
	b.mu.Lock()
	if err := b.ensureRealm(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	uid := "audioWorklet" + strconv.FormatUint(b.nextUID, 10)
	b.nextUID++
	caller := b.caller
	b.mu.Unlock()

	events, remoteEvents := transport.Pipe()
	cfg.ContextUID = uid
	if _, err := caller.Call(ctx, "initialize", initializeArgs{
		UID:    uid,
		Config: cfg,
		Events: remoteEvents,
	}); err != nil {
		events.Close()
		return nil, err
	}

	inst := &Instance{
		uid:    uid,
		bridge: b,
		caller: caller,
		events: events,
		state:  csound.PlayStateStopped,
	}
	events.OnMessage(inst.onEvent)

	b.mu.Lock()
	b.instances[uid] = inst
	b.mu.Unlock()
	return inst, nil
}

// release removes inst from the registry and, if it was the last one,
// tears the realm down. The next Initialize starts a fresh realm with
// a fresh UID namespace.
func (b *Bridge) release(ctx context.Context, inst *Instance) {
	b.mu.Lock()
	delete(b.instances, inst.uid)
	last := len(b.instances) == 0
	if !last {
		b.mu.Unlock()
		return
	}
	caller := b.caller
	realm := b.realm
	b.caller = nil
	b.realm = nil
	b.nextUID = 0
	b.mu.Unlock()

	if caller != nil {
		caller.Release()
	}
	if realm != nil {
		if err := realm.Close(ctx); err != nil {
			b.log.Warn("realm teardown", zap.Error(err))
		}
	}
}

// Close terminates every live instance and tears the realm down.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	instances := make([]*Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		instances = append(instances, inst)
	}
	b.mu.Unlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.TerminateInstance(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
