package resample

import (
	"math"

	"github.com/audiorender/audiorender/internal/renderpipe"
	"github.com/audiorender/audiorender/internal/rendererrors"
)

// Mode is the resampler's operating state (§4.3).
type Mode int

const (
	ModePassthrough Mode = iota
	ModeConstant
	ModeVariable
)

// maxDriftCents bounds the variable backend's ratio to within +-5 cents of
// nominal (§4.3's "adjust" contract).
const maxDriftCents = 5.0

// crossfadeWindow is the cross-fade duration in seconds applied whenever
// the stage transitions between modes (§4.3: "cross-fade linearly over a
// 1 ms window at the output rate").
const crossfadeWindow = 0.001

// Stage implements renderpipe.Stage for the rate resampler: Passthrough,
// Constant, and Variable modes, with seamless (cross-faded) transitions
// between them.
type Stage struct {
	targetRate int
	mode       Mode

	inFormat  renderpipe.WaveFormat
	outFormat renderpipe.WaveFormat

	active *engine // the engine currently producing primary output
	nominalRatio float64

	// Transition state: while non-nil, `from` is cross-faded into
	// `active` over crossfadeFramesLeft output frames.
	from                *engine
	crossfadeFramesLeft int
	crossfadeTotal       int
}

// New constructs a resampler stage targeting targetRate, starting in
// Passthrough mode (Initialize moves it to Constant when the input rate
// differs from targetRate; EnterVariable moves it to Variable).
func New(targetRate int) *Stage {
	return &Stage{targetRate: targetRate, mode: ModePassthrough}
}

// Initialize binds the stage to an input format, selecting Passthrough if
// the rates already match, Constant otherwise.
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	if in.SampleFormat.IsBitstream() {
		return in, rendererrors.New(nil).
			Component("resample").
			Category(rendererrors.CategoryUnsupportedFormat).
			Context("error", "resampler cannot process bitstream format").
			Build()
	}

	out := in
	out.SampleRate = s.targetRate

	s.inFormat = in
	s.outFormat = out
	s.from = nil
	s.crossfadeFramesLeft = 0

	if in.SampleRate == s.targetRate {
		s.mode = ModePassthrough
		s.active = nil
		return out, nil
	}

	s.nominalRatio = float64(s.targetRate) / float64(in.SampleRate)
	s.mode = ModeConstant
	s.active = newEngine(in.Channels, s.nominalRatio)
	return out, nil
}

// EnterVariable switches the stage into Variable mode for realtime drift
// correction, cross-fading from whatever was active before.
func (s *Stage) EnterVariable() {
	s.transitionTo(ModeVariable, s.nominalRatio)
}

// EnterConstant switches back to the fixed nominal ratio.
func (s *Stage) EnterConstant() {
	s.transitionTo(ModeConstant, s.nominalRatio)
}

func (s *Stage) transitionTo(mode Mode, ratio float64) {
	if s.mode == mode || s.inFormat.SampleRate == s.targetRate {
		return
	}
	next := newEngine(s.inFormat.Channels, ratio)
	s.from = s.active
	s.active = next
	s.mode = mode
	s.crossfadeTotal = max(1, int(crossfadeWindow*float64(s.targetRate)))
	s.crossfadeFramesLeft = s.crossfadeTotal
}

// Adjust implements §4.3's variable-ratio drift correction: given the
// frames expected vs. emitted so far plus an accumulated 100ns delta, it
// derives a new target ratio clamped to +-5 cents of nominal.
func (s *Stage) Adjust(expectedFrames, emittedFrames int64, accumulatedDeltaTicks int64) {
	if s.mode != ModeVariable || s.active == nil {
		return
	}
	adjustedFrames := expectedFrames - emittedFrames
	deltaFrames := float64(accumulatedDeltaTicks) * float64(s.inFormat.SampleRate) / float64(renderpipe.TicksPerSecond)
	total := float64(adjustedFrames) + deltaFrames

	// Treat `total` as a correction applied over one second of audio: a
	// positive total means we are behind and need a slightly faster
	// ratio to catch up.
	correctionRatio := 1.0
	if s.inFormat.SampleRate > 0 {
		correctionRatio = 1.0 + total/float64(s.inFormat.SampleRate)
	}
	target := s.nominalRatio * correctionRatio

	minRatio := s.nominalRatio * centsToRatio(-maxDriftCents)
	maxRatio := s.nominalRatio * centsToRatio(maxDriftCents)
	if target < minRatio {
		target = minRatio
	}
	if target > maxRatio {
		target = maxRatio
	}
	s.active.setRatio(target)
}

// centsToRatio converts a musical-cents offset into a frequency ratio
// (100 cents = one semitone = 2^(1/12)).
func centsToRatio(cents float64) float64 {
	return math.Exp2(cents / 1200.0)
}

// Process resamples one chunk. During a transition, both the active and
// outgoing (`from`) engines process the same input and their outputs are
// linearly cross-faded frame by frame over crossfadeWindow; the two
// outputs are not shifted against each other for group delay.
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if s.mode == ModePassthrough || s.active == nil {
		return in, nil
	}
	if in.IsEmpty() {
		return in, nil
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	input := in.ToF32()

	primary := s.active.process(nil, input)

	if s.from == nil {
		return renderpipe.NewF32Chunk(s.outFormat, primary), nil
	}

	secondary := s.from.process(nil, input)
	mixed := crossfade(primary, secondary, s.inFormat.Channels, &s.crossfadeFramesLeft, s.crossfadeTotal)
	if s.crossfadeFramesLeft <= 0 {
		s.from = nil
	}
	return renderpipe.NewF32Chunk(s.outFormat, mixed), nil
}

// crossfade linearly blends `from` (fading out) into `primary` (fading in)
// over the next *framesLeft output frames, in place on a copy of primary.
func crossfade(primary, from []float32, channels int, framesLeft *int, total int) []float32 {
	out := make([]float32, len(primary))
	copy(out, primary)

	n := min(len(primary), len(from)) / channels
	for f := 0; f < n && *framesLeft > 0; f++ {
		t := float32(total-*framesLeft) / float32(total)
		for c := 0; c < channels; c++ {
			idx := f*channels + c
			out[idx] = (1-t)*from[idx] + t*primary[idx]
		}
		*framesLeft--
	}
	return out
}

// Finish calls drain on both backends and ends any transition. drain emits
// no frames (see engine.drain), so Finish returns nil.
func (s *Stage) Finish() (*renderpipe.Chunk, error) {
	if s.mode == ModePassthrough || s.active == nil {
		return nil, nil
	}
	out := s.active.drain(nil)
	if s.from != nil {
		out = s.from.drain(out)
		s.from = nil
	}
	if len(out) == 0 {
		return nil, nil
	}
	return renderpipe.NewF32Chunk(s.outFormat, out), nil
}
