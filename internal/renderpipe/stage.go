package renderpipe

// Stage is the contract every DSP pipeline stage implements: channel
// matrix, rate resampler, tempo, crossfeed, volume/balance, limiter and
// dither (§4.2-§4.9). The trailing format conversion is not a Stage; it is
// Chunk.ToFormat. The Renderer drives the chain in the order fixed by §2's
// data flow.
type Stage interface {
	// Initialize (re)configures the stage for a new input format and
	// returns the format the stage will emit. The Renderer calls it from
	// SetFormat.
	Initialize(in WaveFormat) (out WaveFormat, err error)

	// Process transforms one chunk. Implementations may buffer and
	// return an empty chunk if they need more input before producing
	// output (e.g. the limiter's lookahead window).
	Process(in *Chunk) (*Chunk, error)

	// Finish flushes any residual buffered frames, called once on
	// end-of-stream or before a format change. May return an empty or
	// nil chunk if nothing was pending.
	Finish() (*Chunk, error)
}

// emptyChunk returns a zero-frame chunk in the given format, the
// conventional "nothing to emit yet" result for a Stage.
func emptyChunk(format WaveFormat) *Chunk {
	return NewOwnedChunk(format, nil)
}

// EmptyChunk is the exported form of emptyChunk, for stage implementations
// living in other packages.
func EmptyChunk(format WaveFormat) *Chunk {
	return emptyChunk(format)
}
