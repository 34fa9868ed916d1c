package render

import (
	"encoding/binary"
	"math"
)

// frameReader adapts the callback-style render loop to the pull-style
// io.Reader the output device consumes. Each Read asks the loop for as
// many frames as fit in p, capped by the software buffer size, and
// interleaves the planar result as little-endian float32.
type frameReader struct {
	engine    *Engine
	inputs    int
	outputs   int
	maxFrames int
	inPlanar  [][]float32
	outPlanar [][]float32
	inViews   [][]float32
	outViews  [][]float32
}

func newFrameReader(e *Engine, inputs, outputs, maxFrames int) *frameReader {
	r := &frameReader{
		engine:    e,
		inputs:    inputs,
		outputs:   outputs,
		maxFrames: maxFrames,
	}
	r.inPlanar = make([][]float32, inputs)
	for ch := range r.inPlanar {
		r.inPlanar[ch] = make([]float32, maxFrames)
	}
	r.outPlanar = make([][]float32, outputs)
	for ch := range r.outPlanar {
		r.outPlanar[ch] = make([]float32, maxFrames)
	}
	r.inViews = make([][]float32, inputs)
	r.outViews = make([][]float32, outputs)
	return r
}

func (r *frameReader) Read(p []byte) (int, error) {
	bytesPerFrame := 4 * r.outputs
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if frames > r.maxFrames {
		frames = r.maxFrames
	}

	in := r.inViews
	for ch := range in {
		in[ch] = r.inPlanar[ch][:frames]
	}
	out := r.outViews
	for ch := range out {
		out[ch] = r.outPlanar[ch][:frames]
	}

	r.engine.Process(in, out)

	for i := 0; i < frames; i++ {
		for ch := 0; ch < r.outputs; ch++ {
			bits := math.Float32bits(out[ch][i])
			binary.LittleEndian.PutUint32(p[(i*r.outputs+ch)*4:], bits)
		}
	}
	return frames * bytesPerFrame, nil
}
