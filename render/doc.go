// Package render owns the real-time audio render loop: the single
// authoritative reconciliation between the host callback's block size
// and the engine's fixed internal frame size (ksmps).
//
// The loop maintains a frame cursor that persists across callbacks and
// performs one engine frame each time the cursor completes a ksmps
// block, so across N callbacks of B samples the engine performs exactly
// floor(N*B/K) frames regardless of how B relates to K.
//
// Engine buffers are live views into WASM linear memory. A view that
// reads as empty, or a memory size change, signals the region was
// invalidated by growth; the loop re-acquires both views from the
// engine's current buffer pointers before the next sample access.
//
// Channel-count mismatches are reconciled by a derived mix plan:
// identical counts copy 1:1, stereo-to-mono averages, mono-to-stereo
// duplicates. Combinations outside {1,2}x{1,2} are a documented no-op,
// not an error.
package render
