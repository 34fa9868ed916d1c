// Package engine binds a Csound WebAssembly image to the csound.Engine
// contract using the wazero runtime.
//
// The binding resolves the image's exported primitives (csoundCreate,
// csoundPerformKsmps, buffer pointer getters, channel counts, the
// full-scale amplitude constant) once at load time and caches the
// wazero functions, so the render loop's hot path performs one frame
// without allocation. Linear memory is exposed through csound.Memory;
// views alias guest memory and must be re-acquired after growth.
//
// Plugin images are instantiated into the same runtime before the main
// module. A plugin that fails to instantiate is logged and skipped;
// plugin loading is never fatal.
package engine
