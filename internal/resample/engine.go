// Package resample implements §4.3's rate resampler: a Passthrough state,
// a Constant (fixed-ratio) backend, and a Variable (adjustable-ratio)
// backend used by realtime playback to absorb clock drift, with seamless
// cross-faded transitions between states.
package resample

// engine is a linear-interpolation resampling core shared by the constant
// and variable backends. It tracks a fractional read position into an
// internal history so that successive Process calls produce continuous
// output regardless of how input is chunked. Grounded on the teacher's
// myaudio.ResampleAudio contract (same-rate is an identity, DC signals are
// preserved, output length tracks inRate/outRate) generalized from a
// one-shot function to a streaming stage with adjustable ratio.
type engine struct {
	channels int
	ratio    float64 // outputRate / inputRate

	history    []float32 // last frame carried over for interpolation continuity
	havePrev   bool
	phase      float64 // fractional position within the current input frame pair
	groupDelay float64 // frames of output-side delay introduced by history priming
}

func newEngine(channels int, ratio float64) *engine {
	return &engine{channels: channels, ratio: ratio}
}

func (e *engine) setRatio(ratio float64) {
	e.ratio = ratio
}

// groupDelayFrames reports the engine's output-side group delay, which is
// always 0 for this linear-interpolation core. The transition logic in
// stage.go does not consult it.
func (e *engine) groupDelayFrames() float64 {
	return e.groupDelay
}

// process consumes interleaved input frames and appends resampled
// interleaved output frames to dst, returning the extended slice.
func (e *engine) process(dst []float32, input []float32) []float32 {
	ch := e.channels
	if ch == 0 {
		return dst
	}
	inFrames := len(input) / ch
	if inFrames == 0 {
		return dst
	}

	// Build a working timeline: [prev frame?] + input frames.
	var timeline []float32
	if e.havePrev {
		timeline = make([]float32, 0, len(e.history)+len(input))
		timeline = append(timeline, e.history...)
		timeline = append(timeline, input...)
	} else {
		timeline = input
		e.groupDelay = 0
	}
	totalFrames := len(timeline) / ch

	pos := e.phase
	if !e.havePrev {
		pos = 0
	}
	step := 1.0 / e.ratio

	for pos+1.0 < float64(totalFrames) {
		i0 := int(pos)
		frac := pos - float64(i0)
		for c := 0; c < ch; c++ {
			a := timeline[i0*ch+c]
			b := timeline[(i0+1)*ch+c]
			dst = append(dst, a+float32(frac)*(b-a))
		}
		pos += step
	}

	// Carry the last full frame (and the fractional remainder) forward so
	// the next Process call continues the interpolation seamlessly.
	consumedFrames := int(pos)
	if consumedFrames >= totalFrames-1 {
		consumedFrames = totalFrames - 1
	}
	if consumedFrames < 0 {
		consumedFrames = 0
	}
	e.phase = pos - float64(consumedFrames)
	remainder := timeline[consumedFrames*ch:]
	e.history = append(e.history[:0], remainder...)
	e.havePrev = true

	return dst
}

// drain is called on end-of-stream. It returns dst unchanged: the frames
// still held in history for interpolation are not emitted.
func (e *engine) drain(dst []float32) []float32 {
	return dst
}

// reset clears interpolation history, used when a backend is
// reinitialized for a new input format.
func (e *engine) reset() {
	e.history = e.history[:0]
	e.havePrev = false
	e.phase = 0
	e.groupDelay = 0
}
