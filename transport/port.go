package transport

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	csounderrors "github.com/jamestiotio/csound/errors"
)

// Port is one endpoint of a duplex message channel. Messages posted on
// one endpoint arrive at the other in send order, delivered on a
// dedicated drain goroutine so handlers never run on the poster's
// goroutine. Messages posted before OnMessage is called are buffered.
//
// All methods are safe for concurrent use.
type Port struct {
	peer *Port

	mu      sync.Mutex
	cond    *sync.Cond
	inbox   *queue.Queue
	handler func(any)
	started bool

	closed atomic.Bool
}

// Pipe returns two connected ports.
func Pipe() (*Port, *Port) {
	a := newPort()
	b := newPort()
	a.peer = b
	b.peer = a
	return a, b
}

func newPort() *Port {
	p := &Port{inbox: queue.New()}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Post delivers v to the peer endpoint. It never blocks on the
// consumer; the inbox is unbounded.
func (p *Port) Post(v any) error {
	if p.closed.Load() {
		return csounderrors.Closed(csounderrors.PhaseTransport, "port")
	}
	peer := p.peer
	if peer.closed.Load() {
		return csounderrors.Closed(csounderrors.PhaseTransport, "peer port")
	}
	peer.mu.Lock()
	peer.inbox.Add(v)
	peer.cond.Signal()
	peer.mu.Unlock()
	return nil
}

// OnMessage binds the delivery handler, replacing any previous one,
// and starts draining buffered messages.
func (p *Port) OnMessage(h func(any)) {
	p.mu.Lock()
	p.handler = h
	if !p.started && h != nil {
		p.started = true
		go p.drain()
	}
	p.mu.Unlock()
}

func (p *Port) drain() {
	for {
		p.mu.Lock()
		for p.inbox.Length() == 0 && !p.closed.Load() {
			p.cond.Wait()
		}
		if p.inbox.Length() == 0 {
			p.mu.Unlock()
			return
		}
		v := p.inbox.Remove()
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			h(v)
		}
	}
}

// Close releases the endpoint. Buffered messages already delivered to
// this endpoint are still drained; subsequent posts from either side
// fail. Close is idempotent.
func (p *Port) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	return p.closed.Load()
}
