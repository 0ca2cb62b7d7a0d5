// Package dither implements §4.7's rectangular dither plus 2nd-order
// noise-shaping stage, active only when down-converting to 16-bit.
package dither

import (
	"math"
	"math/rand"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

// maxChannels caps the per-channel error-feedback state at 18 channels
// (§4.7: "channel count capped at 18").
const maxChannels = 18

// Stage implements renderpipe.Stage. It is a pass-through unless the
// downstream target format is s16 and the input isn't already s16.
type Stage struct {
	targetFormat renderpipe.SampleFormat
	active       bool
	channels     int

	e1, e2 [maxChannels]float64
	rng    *rand.Rand
}

// New constructs a dither stage that activates when converting to
// targetFormat == FormatS16 from a wider source.
func New(targetFormat renderpipe.SampleFormat) *Stage {
	return &Stage{targetFormat: targetFormat, rng: rand.New(rand.NewSource(1))}
}

// Initialize decides whether dithering is active for this input format.
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	s.active = s.targetFormat == renderpipe.FormatS16 &&
		!in.SampleFormat.IsBitstream() &&
		in.SampleFormat != renderpipe.FormatS16
	s.channels = in.Channels
	if s.channels > maxChannels {
		s.channels = maxChannels
	}
	for i := range s.e1 {
		s.e1[i] = 0
		s.e2[i] = 0
	}
	return in, nil
}

// Process converts to f32 (if needed), applies rectangular dither with a
//2nd-order error-feedback shaper, and writes s16 output directly (§4.7).
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if !s.active || in.IsEmpty() {
		return in, nil
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	samples := in.ToF32()
	frames := in.Frames()
	ch := in.Format().Channels

	out := make([]byte, frames*ch*2)
	const scale = float64(int16Max - 4)

	for f := 0; f < frames; f++ {
		for c := 0; c < ch; c++ {
			cIdx := c
			if cIdx >= maxChannels {
				cIdx = maxChannels - 1
			}
			x := float64(samples[f*ch+c])
			u := s.rng.Float64() - 0.5
			noise := u + 0.5*s.e1[cIdx] - s.e2[cIdx]
			rounded := roundHalfToEven(x*scale + noise)
			output := clampS16(rounded)

			s.e2[cIdx] = s.e1[cIdx]
			s.e1[cIdx] = output - x*scale

			off := (f*ch + c) * 2
			v := int16(output)
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}

	outFormat := in.Format()
	outFormat.SampleFormat = renderpipe.FormatS16
	outFormat.ContainerBits = 16
	outFormat.ValidBits = 16
	return renderpipe.NewOwnedChunk(outFormat, out), nil
}

// Finish: dither has no cross-chunk state to drain.
func (s *Stage) Finish() (*renderpipe.Chunk, error) { return nil, nil }

const int16Max = 1<<15 - 1

func clampS16(v float64) float64 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return v
}

// roundHalfToEven implements the §9 rounding rule ("round half to even for
// dither output").
func roundHalfToEven(v float64) float64 {
	return math.RoundToEven(v)
}
