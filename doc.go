// Package csound bridges a block-based host audio callback to a
// WebAssembly build of the Csound synthesis engine, which produces and
// consumes audio in fixed-size internal frames (ksmps) that generally
// do not align with the host's callback buffer size.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct
// responsibilities:
//
//	csound/              Root package with the Engine, Memory and PlayState contracts
//	├── engine/          wazero binding of the Csound WASM image
//	├── render/          Real-time render loop reconciling host and engine block sizes
//	├── bridge/          Cross-context lifecycle proxy for a realm-hosted render engine
//	├── transport/       Duplex message ports and the remote-call proxy
//	├── errors/          Structured error types for debugging
//	└── cmd/csound-run/  CLI runner with an optional interactive TUI
//
// # Quick Start
//
// Run a Csound WASM image against the default output sink:
//
//	eng, err := render.Initialize(ctx, render.Config{
//	    SampleRate:  48000,
//	    WasmImage:   image,
//	    AutoConnect: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng.AddListener(func(m csound.Message) { fmt.Println(m) })
//	eng.Start(ctx)
//
// Or proxy the same contract to an engine hosted in an isolated realm:
//
//	b := bridge.New(bridge.Options{})
//	inst, err := b.Initialize(ctx, render.Config{...})
//
// # Block-Size Reconciliation
//
// The render loop maintains a frame cursor that persists across host
// callbacks. Across N callbacks of B samples with an engine frame size
// of K, the engine performs exactly floor(N*B/K) frames, for every
// relation of B to K.
//
// # Memory Model
//
// The engine's buffers are windows into WASM linear memory. Linear
// memory may move when it grows; a window that reads as empty signals
// that the prior region was invalidated and the render loop re-acquires
// it from the engine's current buffer pointers before the next sample
// access.
package csound
