package render

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	csounderrors "github.com/jamestiotio/csound/errors"
)

// The platform audio layer allows one context per process. Every
// AudioContext shares it; the first construction fixes the format.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedOtoContext(sampleRate, channels, bufferSamples int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(bufferSamples) * time.Second / time.Duration(sampleRate),
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// AudioContext is the host output sink. It owns the connection between
// render loops and the platform audio device and tracks the nodes it
// has handed out so Close can disconnect them.
type AudioContext struct {
	sampleRate int
	channels   int

	ctx    *oto.Context
	closed atomic.Bool

	mu    sync.Mutex
	nodes []*Node
}

// NewAudioContext opens (or joins) the process audio device.
func NewAudioContext(sampleRate, channels, bufferSamples int) (*AudioContext, error) {
	ctx, err := sharedOtoContext(sampleRate, channels, bufferSamples)
	if err != nil {
		return nil, err
	}
	return &AudioContext{
		sampleRate: sampleRate,
		channels:   channels,
		ctx:        ctx,
	}, nil
}

// SampleRate returns the context's sample rate.
func (a *AudioContext) SampleRate() int { return a.sampleRate }

// Closed reports whether Close was called.
func (a *AudioContext) Closed() bool { return a.closed.Load() }

// Connect attaches a render loop to the device and begins pulling
// audio from it. The returned Node detaches it again.
func (a *AudioContext) Connect(e *Engine) (*Node, error) {
	if a.closed.Load() {
		return nil, csounderrors.Closed(csounderrors.PhaseStart, "audio context")
	}
	reader := newFrameReader(e, e.cfg.InputChannelCount, a.channels, e.cfg.SoftwareBufferSize)
	player := a.ctx.NewPlayer(reader)
	node := &Node{player: player}
	player.Play()

	a.mu.Lock()
	a.nodes = append(a.nodes, node)
	a.mu.Unlock()
	return node, nil
}

// Close disconnects every node handed out by this context. The
// underlying device stays open for the rest of the process.
func (a *AudioContext) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	nodes := a.nodes
	a.nodes = nil
	a.mu.Unlock()
	for _, n := range nodes {
		n.Disconnect()
	}
}

// Node is one live attachment of a render loop to the output device.
type Node struct {
	player *oto.Player
	closed atomic.Bool
}

// Disconnect detaches the node. Safe to call more than once.
func (n *Node) Disconnect() {
	if n == nil || !n.closed.CompareAndSwap(false, true) {
		return
	}
	if n.player != nil {
		n.player.Close()
	}
}
