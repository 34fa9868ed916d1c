package transport

import (
	"context"
	"sync"
	"sync/atomic"

	csounderrors "github.com/jamestiotio/csound/errors"
)

// Handler serves one proxied method.
type Handler func(ctx context.Context, args any) (any, error)

type callRequest struct {
	ID     uint64
	Method string
	Args   any
}

type callReply struct {
	ID     uint64
	Result any
	Err    string
}

// Caller exposes a remote object's methods as if local. It owns its
// port; Release closes it and fails every in-flight call.
type Caller struct {
	port *Port

	mu      sync.Mutex
	pending map[uint64]chan callReply
	nextID  atomic.Uint64

	released atomic.Bool
}

// NewCaller binds a caller to its side of a port pair.
func NewCaller(port *Port) *Caller {
	c := &Caller{
		port:    port,
		pending: make(map[uint64]chan callReply),
	}
	port.OnMessage(c.onMessage)
	return c
}

func (c *Caller) onMessage(v any) {
	rep, ok := v.(callReply)
	if !ok {
		return
	}
	c.mu.Lock()
	ch := c.pending[rep.ID]
	delete(c.pending, rep.ID)
	c.mu.Unlock()
	if ch != nil {
		ch <- rep
	}
}

// Call invokes method on the remote side and waits for its reply.
// Calls may overlap freely; replies are matched by ID.
func (c *Caller) Call(ctx context.Context, method string, args any) (any, error) {
	if c.released.Load() {
		return nil, csounderrors.Closed(csounderrors.PhaseTransport, "caller")
	}

	id := c.nextID.Add(1)
	ch := make(chan callReply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.port.Post(callRequest{ID: id, Method: method, Args: args}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case rep := <-ch:
		if rep.Err != "" {
			return nil, csounderrors.Remote(method, rep.Err)
		}
		return rep.Result, nil
	}
}

func (c *Caller) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Release closes the caller's port and fails in-flight calls. Safe to
// call more than once.
func (c *Caller) Release() {
	if c.released.Swap(true) {
		return
	}
	c.port.Close()
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callReply{ID: id, Err: "caller released"}
	}
	c.mu.Unlock()
}

// Responder dispatches incoming proxy calls to registered handlers.
// Each request is served on its own goroutine so long-running methods
// do not block the port.
type Responder struct {
	port *Port

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewResponder binds a responder to its side of a port pair.
func NewResponder(port *Port) *Responder {
	r := &Responder{
		port:     port,
		handlers: make(map[string]Handler),
	}
	port.OnMessage(r.onMessage)
	return r
}

// Handle registers h for method, replacing any previous handler.
func (r *Responder) Handle(method string, h Handler) {
	r.mu.Lock()
	r.handlers[method] = h
	r.mu.Unlock()
}

func (r *Responder) onMessage(v any) {
	req, ok := v.(callRequest)
	if !ok {
		return
	}
	r.mu.RLock()
	h := r.handlers[req.Method]
	r.mu.RUnlock()
	go r.serve(req, h)
}

func (r *Responder) serve(req callRequest, h Handler) {
	if h == nil {
		r.reply(callReply{ID: req.ID, Err: "unknown method " + req.Method})
		return
	}
	result, err := h(context.Background(), req.Args)
	rep := callReply{ID: req.ID, Result: result}
	if err != nil {
		rep.Err = err.Error()
	}
	r.reply(rep)
}

func (r *Responder) reply(rep callReply) {
	// If the caller released first, its pending calls already failed.
	_ = r.port.Post(rep)
}

// Close releases the responder's port endpoint.
func (r *Responder) Close() {
	r.port.Close()
}
