package render

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
)

type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) View(offset, length uint32) []byte {
	if int(offset)+int(length) > len(m.buf) {
		return nil
	}
	return m.buf[offset : offset+length : offset+length]
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

// grow reallocates the backing array, leaving previously handed out
// views pointing at stale data the way real linear-memory growth does.
func (m *fakeMemory) grow(n int) {
	nb := make([]byte, len(m.buf)+n)
	copy(nb, m.buf)
	m.buf = nb
}

type fakeEngine struct {
	mu sync.Mutex

	ksmps    uint32
	nchnls   uint32
	nchnlsIn uint32
	zdbfs    float64
	mem      *fakeMemory
	spoutPtr uint32
	spinPtr  uint32

	performs  int
	endAt     int // perform index that returns endResult, 0 means never
	endResult int32
	stopFlag  bool
	onPerform func(f *fakeEngine)

	startCalls int
	stopCalls  int
	resetCalls int
	options    []string
	midi       [][3]byte
	closed     bool
}

func newFakeEngine(ksmps, nchnls, nchnlsIn uint32, zdbfs float64) *fakeEngine {
	return &fakeEngine{
		ksmps:     ksmps,
		nchnls:    nchnls,
		nchnlsIn:  nchnlsIn,
		zdbfs:     zdbfs,
		mem:       &fakeMemory{buf: make([]byte, 16384)},
		spoutPtr:  0,
		spinPtr:   8192,
		endResult: 1,
	}
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.stopFlag = true
	return nil
}

func (f *fakeEngine) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	f.performs = 0
	f.stopFlag = false
	return nil
}

func (f *fakeEngine) SetOption(_ context.Context, option string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = append(f.options, option)
	return nil
}

func (f *fakeEngine) CompileOrc(context.Context, string) error { return nil }
func (f *fakeEngine) ReadScore(context.Context, string) error  { return nil }

func (f *fakeEngine) PerformKsmps(context.Context) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopFlag {
		return 1
	}
	f.performs++
	if f.onPerform != nil {
		f.onPerform(f)
	}
	if f.endAt > 0 && f.performs >= f.endAt {
		return f.endResult
	}
	return 0
}

func (f *fakeEngine) performCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.performs
}

func (f *fakeEngine) Ksmps(context.Context) (uint32, error)       { return f.ksmps, nil }
func (f *fakeEngine) Nchnls(context.Context) (uint32, error)      { return f.nchnls, nil }
func (f *fakeEngine) NchnlsInput(context.Context) (uint32, error) { return f.nchnlsIn, nil }
func (f *fakeEngine) ZeroDBFS(context.Context) (float64, error)   { return f.zdbfs, nil }
func (f *fakeEngine) SpoutPtr(context.Context) (uint32, error)    { return f.spoutPtr, nil }
func (f *fakeEngine) SpinPtr(context.Context) (uint32, error)     { return f.spinPtr, nil }
func (f *fakeEngine) Memory() csound.Memory                       { return f.mem }

func (f *fakeEngine) PushMIDI(_ context.Context, status, data1, data2 byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.midi = append(f.midi, [3]byte{status, data1, data2})
	return nil
}

func (f *fakeEngine) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// setSpout writes one output sample directly into fake engine memory.
func (f *fakeEngine) setSpout(idx int, v float64) {
	binary.LittleEndian.PutUint64(f.mem.buf[int(f.spoutPtr)+idx*8:], math.Float64bits(v))
}

// spinAt reads one input sample out of fake engine memory.
func (f *fakeEngine) spinAt(idx int) float64 {
	off := int(f.spinPtr) + idx*8
	return math.Float64frombits(binary.LittleEndian.Uint64(f.mem.buf[off:]))
}

func mkplanar(channels, frames int) [][]float32 {
	b := make([][]float32, channels)
	for ch := range b {
		b[ch] = make([]float32, frames)
	}
	return b
}

// startEngine starts a performance against the fake and waits until the
// render session is staged. Start itself stays blocked until the first
// Process call; the cleanup drains it.
func startEngine(t *testing.T, f *fakeEngine, cfg Config) *Engine {
	t.Helper()
	e := New(f, cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !e.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("render session never staged")
		}
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return e
}

func TestProcess_PerformCadence(t *testing.T) {
	tests := []struct {
		name      string
		ksmps     uint32
		hostBuf   int
		callbacks int
		want      int
	}{
		{"host larger than ksmps", 64, 128, 4, 8},
		{"host smaller than ksmps", 128, 64, 5, 2},
		{"host equals ksmps", 64, 64, 3, 3},
		{"non power of two", 48, 128, 3, 8},
		{"coprime sizes", 100, 64, 7, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeEngine(tt.ksmps, 1, 0, 1)
			e := startEngine(t, f, Config{})

			out := mkplanar(1, tt.hostBuf)
			for i := 0; i < tt.callbacks; i++ {
				e.Process(nil, out)
			}
			if got := f.performCount(); got != tt.want {
				t.Errorf("performs = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProcess_StereoToMonoDownmix(t *testing.T) {
	f := newFakeEngine(32, 2, 0, 1)
	for i := 0; i < 32; i++ {
		f.setSpout(i*2, 0.4)
		f.setSpout(i*2+1, 0.8)
	}
	e := startEngine(t, f, Config{})

	out := mkplanar(1, 32)
	e.Process(nil, out)
	for i, v := range out[0] {
		if math.Abs(float64(v)-0.6) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.6", i, v)
		}
	}
}

func TestProcess_MonoToStereoUpmix(t *testing.T) {
	f := newFakeEngine(32, 1, 0, 1)
	for i := 0; i < 32; i++ {
		f.setSpout(i, 0.25)
	}
	e := startEngine(t, f, Config{})

	out := mkplanar(2, 32)
	e.Process(nil, out)
	for ch := 0; ch < 2; ch++ {
		for i, v := range out[ch] {
			if math.Abs(float64(v)-0.25) > 1e-6 {
				t.Fatalf("channel %d sample %d = %v, want 0.25", ch, i, v)
			}
		}
	}
}

func TestProcess_ZeroDBFSScaling(t *testing.T) {
	f := newFakeEngine(16, 1, 1, 32768)
	for i := 0; i < 16; i++ {
		f.setSpout(i, 16384)
	}
	e := startEngine(t, f, Config{})

	in := mkplanar(1, 16)
	for i := range in[0] {
		in[0][i] = 0.5
	}
	out := mkplanar(2, 16)
	e.Process(in, out)

	for i, v := range out[0] {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("output sample %d = %v, want 0.5", i, v)
		}
	}
	for i := 0; i < 16; i++ {
		if got := f.spinAt(i); math.Abs(got-16384) > 1e-9 {
			t.Fatalf("spin sample %d = %v, want 16384", i, got)
		}
	}
}

func TestProcess_ViewReacquireAfterGrowth(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	counter := 0.0
	for i := 0; i < 16; i++ {
		f.setSpout(i, counter)
		counter++
	}
	f.onPerform = func(f *fakeEngine) {
		for i := 0; i < 16; i++ {
			f.setSpout(i, counter)
			counter++
		}
	}
	e := startEngine(t, f, Config{})

	out := mkplanar(1, 32)
	e.Process(nil, out)
	for i, v := range out[0] {
		if float64(v) != float64(i) {
			t.Fatalf("pre-growth sample %d = %v, want %d", i, v, i)
		}
	}

	// Memory growth between callbacks detaches the held views.
	f.mem.grow(65536)

	e.Process(nil, out)
	for i, v := range out[0] {
		want := float64(32 + i)
		if float64(v) != want {
			t.Fatalf("post-growth sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestProcess_EndOfPerformance(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	for i := 0; i < 16; i++ {
		f.setSpout(i, 0.5)
	}
	f.endAt = 3
	f.endResult = 2
	e := startEngine(t, f, Config{})

	var mu sync.Mutex
	var states []csound.PlayState
	e.AddListener(func(m csound.Message) {
		if m.Kind == csound.KindPlayState {
			mu.Lock()
			states = append(states, m.PlayState)
			mu.Unlock()
		}
	})

	out := mkplanar(1, 64)
	e.Process(nil, out)

	// The third perform ends the performance at frame 48.
	for i := 48; i < 64; i++ {
		if out[0][i] != 0 {
			t.Fatalf("post-end sample %d = %v, want 0", i, out[0][i])
		}
	}
	if got := e.PlayState(); got != csound.PlayStateEnded {
		t.Errorf("state = %v, want %v", got, csound.PlayStateEnded)
	}

	// Later callbacks render silence.
	out[0][0] = 99
	e.Process(nil, out)
	if out[0][0] != 0 {
		t.Error("engine kept producing after end of performance")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != csound.PlayStateEnded {
		t.Errorf("transitions = %v, want trailing %v", states, csound.PlayStateEnded)
	}
}

func TestProcess_SilentBeforeStart(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := New(f, Config{}, zap.NewNop())

	out := mkplanar(2, 64)
	out[0][0] = 7
	e.Process(nil, out)
	if out[0][0] != 0 {
		t.Error("expected silence before start")
	}
	if f.performCount() != 0 {
		t.Error("engine performed before start")
	}
}

func TestStop_ResolvesWithResult(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := startEngine(t, f, Config{})

	out := mkplanar(1, 32)
	e.Process(nil, out)

	type stopRes struct {
		result int32
		err    error
	}
	done := make(chan stopRes, 1)
	go func() {
		r, err := e.Stop(context.Background())
		done <- stopRes{r, err}
	}()

	// Stop resolves only once the render loop observes termination.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("Stop: %v", res.err)
			}
			if res.result != 1 {
				t.Errorf("result = %d, want 1", res.result)
			}
			if got := e.PlayState(); got != csound.PlayStateStopped {
				t.Errorf("state = %v, want %v", got, csound.PlayStateStopped)
			}
			return
		case <-deadline:
			t.Fatal("Stop never resolved")
		default:
			e.Process(nil, out)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPauseResume(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := startEngine(t, f, Config{})

	var mu sync.Mutex
	var states []csound.PlayState
	e.AddListener(func(m csound.Message) {
		if m.Kind == csound.KindPlayState {
			mu.Lock()
			states = append(states, m.PlayState)
			mu.Unlock()
		}
	})

	out := mkplanar(1, 16)
	e.Process(nil, out)
	performed := f.performCount()

	e.Pause()
	e.Pause() // idempotent
	e.Process(nil, out)
	if got := f.performCount(); got != performed {
		t.Errorf("performed %d frames while paused", got-performed)
	}
	if e.PlayState() != csound.PlayStatePaused {
		t.Errorf("state = %v, want paused", e.PlayState())
	}

	e.Resume()
	e.Process(nil, out)
	if got := f.performCount(); got != performed+1 {
		t.Errorf("performs after resume = %d, want %d", got, performed+1)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []csound.PlayState{
		csound.PlayStateStarted,
		csound.PlayStatePaused,
		csound.PlayStateResumed,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestStart_Invalid(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := startEngine(t, f, Config{})

	out := mkplanar(1, 16)
	e.Process(nil, out)

	if err := e.Start(context.Background()); err == nil {
		t.Error("second Start should fail while performing")
	}
}

func TestStart_StagesOptions(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	startEngine(t, f, Config{SampleRate: 48000})

	f.mu.Lock()
	defer f.mu.Unlock()
	want := []string{"-odac", "-iadc", "--sample-rate=48000"}
	if len(f.options) != len(want) {
		t.Fatalf("options = %v, want %v", f.options, want)
	}
	for i := range want {
		if f.options[i] != want[i] {
			t.Fatalf("options = %v, want %v", f.options, want)
		}
	}
}

func TestRenderOffline(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	f.endAt = 10
	f.endResult = 1
	e := New(f, Config{}, zap.NewNop())

	var mu sync.Mutex
	var states []csound.PlayState
	e.AddListener(func(m csound.Message) {
		if m.Kind == csound.KindPlayState {
			mu.Lock()
			states = append(states, m.PlayState)
			mu.Unlock()
		}
	})

	result, err := e.RenderOffline(context.Background())
	if err != nil {
		t.Fatalf("RenderOffline: %v", err)
	}
	if result != 1 {
		t.Errorf("result = %d, want 1", result)
	}
	if got := f.performCount(); got != 10 {
		t.Errorf("performs = %d, want 10", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []csound.PlayState{
		csound.PlayStateRenderStarted,
		csound.PlayStateRenderEnded,
		csound.PlayStateStopped,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestPushMIDI(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := New(f, Config{}, zap.NewNop())

	if err := e.PushMIDI(context.Background(), midi.NoteOn(0, 60, 100)); err != nil {
		t.Fatalf("PushMIDI: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.midi) != 1 {
		t.Fatalf("got %d messages, want 1", len(f.midi))
	}
	if f.midi[0] != [3]byte{0x90, 60, 100} {
		t.Errorf("message = %v", f.midi[0])
	}
}

func TestTerminateInstance(t *testing.T) {
	f := newFakeEngine(16, 1, 0, 1)
	e := startEngine(t, f, Config{})

	out := mkplanar(1, 16)
	e.Process(nil, out)

	if err := e.TerminateInstance(context.Background()); err != nil {
		t.Fatalf("TerminateInstance: %v", err)
	}
	if err := e.TerminateInstance(context.Background()); err != nil {
		t.Fatalf("second TerminateInstance: %v", err)
	}

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		t.Error("engine not closed")
	}

	out[0][0] = 3
	e.Process(nil, out)
	if out[0][0] != 0 {
		t.Error("expected silence after terminate")
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("Start after terminate should fail")
	}
}

func TestWorkletScenario(t *testing.T) {
	// 48kHz engine, ksmps 64, stereo out, no input, host blocks of 128.
	f := newFakeEngine(64, 2, 0, 32768)
	f.onPerform = func(f *fakeEngine) {
		for i := 0; i < 64; i++ {
			f.setSpout(i*2, 16384)
			f.setSpout(i*2+1, -16384)
		}
	}
	for i := 0; i < 64; i++ {
		f.setSpout(i*2, 16384)
		f.setSpout(i*2+1, -16384)
	}
	e := startEngine(t, f, Config{SampleRate: 48000})

	out := mkplanar(2, 128)
	e.Process(nil, out)

	if got := f.performCount(); got != 2 {
		t.Errorf("performs per callback = %d, want 2", got)
	}
	for i := 0; i < 128; i++ {
		if math.Abs(float64(out[0][i])-0.5) > 1e-6 {
			t.Fatalf("left sample %d = %v, want 0.5", i, out[0][i])
		}
		if math.Abs(float64(out[1][i])+0.5) > 1e-6 {
			t.Fatalf("right sample %d = %v, want -0.5", i, out[1][i])
		}
	}
}
