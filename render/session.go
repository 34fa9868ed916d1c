package render

import (
	"context"
	"encoding/binary"
	"math"

	csound "github.com/jamestiotio/csound"
)

// mixPlan is derived, never stored: a pure function of the engine and
// host channel counts. Only {1,2}x{1,2} combinations are mapped; the
// rest are skipped as a documented limitation.
type mixPlan int

const (
	mixCopy mixPlan = iota
	mixDownmix
	mixUpmix
	mixUnsupported
)

func planFor(engineChannels, hostChannels int) mixPlan {
	switch {
	case engineChannels == hostChannels && (engineChannels == 1 || engineChannels == 2):
		return mixCopy
	case engineChannels == 2 && hostChannels == 1:
		return mixDownmix
	case engineChannels == 1 && hostChannels == 2:
		return mixUpmix
	default:
		return mixUnsupported
	}
}

// session is the mutable frame-reconciliation state for one
// performance. It is created by Start, mutated only by the render
// loop, and discarded on teardown. The cursor cnt persists across
// callbacks and resets only when it completes a ksmps block.
type session struct {
	ctx context.Context
	cs  csound.Engine

	cnt    uint32
	result int32

	ksmps    uint32
	nchnls   int
	nchnlsIn int
	zeroDBFS float64

	spoutPtr uint32
	spinPtr  uint32
	spout    []byte
	spin     []byte
	memSize  uint32

	started chan struct{} // closed on the loop's first active callback
	stopped chan int32    // receives the engine result on performanceEnded
}

func newSession(ctx context.Context, cs csound.Engine) (*session, error) {
	ksmps, err := cs.Ksmps(ctx)
	if err != nil {
		return nil, err
	}
	nchnls, err := cs.Nchnls(ctx)
	if err != nil {
		return nil, err
	}
	nchnlsIn, err := cs.NchnlsInput(ctx)
	if err != nil {
		return nil, err
	}
	scale, err := cs.ZeroDBFS(ctx)
	if err != nil {
		return nil, err
	}
	if scale == 0 {
		scale = 1
	}

	s := &session{
		ctx:      ctx,
		cs:       cs,
		ksmps:    ksmps,
		nchnls:   int(nchnls),
		nchnlsIn: int(nchnlsIn),
		zeroDBFS: scale,
		started:  make(chan struct{}),
		stopped:  make(chan int32, 1),
	}
	s.acquire()
	return s, nil
}

// stale reports whether either live view was invalidated by memory
// growth. A detached view reads as empty; an in-place growth is caught
// by the size snapshot.
func (s *session) stale(mem csound.Memory) bool {
	if len(s.spout) == 0 && s.nchnls > 0 {
		return true
	}
	if len(s.spin) == 0 && s.nchnlsIn > 0 {
		return true
	}
	return s.memSize != mem.Size()
}

// acquire re-derives both views from the engine's current buffer
// pointers.
func (s *session) acquire() {
	mem := s.cs.Memory()
	if p, err := s.cs.SpoutPtr(s.ctx); err == nil {
		s.spoutPtr = p
	}
	if p, err := s.cs.SpinPtr(s.ctx); err == nil {
		s.spinPtr = p
	}
	s.spout = mem.View(s.spoutPtr, 8*s.ksmps*uint32(s.nchnls))
	s.spin = mem.View(s.spinPtr, 8*s.ksmps*uint32(s.nchnlsIn))
	s.memSize = mem.Size()
}

// spoutAt reads one engine output sample (64-bit float, engine units).
func (s *session) spoutAt(idx int) float64 {
	off := idx * 8
	if off < 0 || off+8 > len(s.spout) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(s.spout[off:]))
}

// spinSet writes one engine input sample (64-bit float, engine units).
func (s *session) spinSet(idx int, v float64) {
	off := idx * 8
	if off < 0 || off+8 > len(s.spin) {
		return
	}
	binary.LittleEndian.PutUint64(s.spin[off:], math.Float64bits(v))
}
