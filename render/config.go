package render

import (
	"go.uber.org/zap"

	"github.com/jamestiotio/csound/engine"
)

const (
	defaultSampleRate  = 44100
	defaultInputCount  = 1
	defaultOutputCount = 2
	hardwareBufferSize = 32768
	softwareBufferSize = 2048
)

// Config enumerates everything Initialize needs to construct an engine
// instance and wire it to the host.
type Config struct {
	SampleRate         int
	InputChannelCount  int // default 1
	OutputChannelCount int // default 2

	// HardwareBufferSize and SoftwareBufferSize are fixed by the
	// external contract; zero selects the fixed defaults (32768/2048).
	HardwareBufferSize int
	SoftwareBufferSize int

	// WasmImage is the synthesis engine binary.
	WasmImage []byte

	// WithPlugins lists plugin images loaded into the same runtime.
	WithPlugins []engine.Plugin

	// AutoConnect wires the engine to the host output sink.
	AutoConnect bool

	// AudioContextProvided marks AudioContext as caller-supplied; a
	// nil or closed provided context is a logged fatal condition.
	AudioContextProvided bool
	AudioContext         *AudioContext

	// ContextUID scopes this instance's messages. Empty means a
	// standalone (non-bridged) instance.
	ContextUID string

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.InputChannelCount == 0 {
		c.InputChannelCount = defaultInputCount
	}
	if c.OutputChannelCount == 0 {
		c.OutputChannelCount = defaultOutputCount
	}
	if c.HardwareBufferSize == 0 {
		c.HardwareBufferSize = hardwareBufferSize
	}
	if c.SoftwareBufferSize == 0 {
		c.SoftwareBufferSize = softwareBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
