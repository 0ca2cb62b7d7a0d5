// Package tempo implements §4.4's time-stretch stage: a time-domain
// overlap-add (OLA) scheme active whenever the playback rate is not 1.0,
// using a 40 ms sequence and 8 ms overlap. A 15 ms seek-window length is
// computed, but no similarity search is made: sequences are spliced at
// fixed input steps.
package tempo

import (
	"github.com/audiorender/audiorender/internal/renderpipe"
	"github.com/audiorender/audiorender/internal/rendererrors"
)

const (
	sequenceMS = 40
	seekMS     = 15
	overlapMS  = 8
)

// Stage implements renderpipe.Stage, active only when Rate != 1.0.
type Stage struct {
	format   renderpipe.WaveFormat
	rate     float64
	channels int

	sequenceFrames int
	seekFrames     int
	overlapFrames  int

	pending []float32 // unconsumed input carried between Process calls
}

// New constructs a tempo stage at the given playback rate.
func New(rate float64) *Stage {
	return &Stage{rate: rate}
}

// Initialize binds the stage to an input format and precomputes frame
// counts for the sequence/seek/overlap windows at that sample rate.
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	if in.SampleFormat.IsBitstream() {
		return in, rendererrors.New(nil).
			Component("tempo").
			Category(rendererrors.CategoryUnsupportedFormat).
			Context("error", "tempo cannot process bitstream format").
			Build()
	}
	s.format = in
	s.channels = in.Channels
	s.sequenceFrames = in.SampleRate * sequenceMS / 1000
	s.seekFrames = in.SampleRate * seekMS / 1000
	s.overlapFrames = in.SampleRate * overlapMS / 1000
	s.pending = s.pending[:0]
	return in, nil
}

// SetRate updates the playback rate; a rate of exactly 1.0 makes Process a
// pass-through (§4.4: "active when playback-rate != 1.0").
func (s *Stage) SetRate(rate float64) {
	s.rate = rate
}

// Process applies the overlap-add time-stretch when rate != 1.0, otherwise
// passes the chunk through unchanged.
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if s.rate == 1.0 || in.IsEmpty() {
		return in, nil
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	input := in.ToF32()
	s.pending = append(s.pending, input...)

	out := s.stretch(false)
	return renderpipe.NewF32Chunk(s.format, out), nil
}

// Finish flushes residual frames into the output chunk (§4.4: "on finish,
// flush residual frames into the output chunk").
func (s *Stage) Finish() (*renderpipe.Chunk, error) {
	if s.rate == 1.0 {
		return nil, nil
	}
	out := s.stretch(true)
	if len(out) == 0 {
		return nil, nil
	}
	return renderpipe.NewF32Chunk(s.format, out), nil
}

// stretch runs one overlap-add pass over s.pending, consuming complete
// sequence windows and leaving any remainder buffered for the next call
// (or, when flush is true, emitting the remainder as a final short window).
func (s *Stage) stretch(flush bool) []float32 {
	ch := s.channels
	if ch == 0 || s.sequenceFrames == 0 {
		out := s.pending
		s.pending = nil
		return out
	}

	var out []float32
	stepFrames := int(float64(s.sequenceFrames-s.overlapFrames) * s.rate)
	if stepFrames < 1 {
		stepFrames = 1
	}

	framesAvailable := len(s.pending) / ch
	consumed := 0
	for framesAvailable-consumed >= s.sequenceFrames {
		seq := s.pending[consumed*ch : (consumed+s.sequenceFrames)*ch]
		if len(out) == 0 {
			out = append(out, seq[:len(seq)-s.overlapFrames*ch]...)
		} else {
			overlapOut := out[len(out)-s.overlapFrames*ch:]
			for i := 0; i < s.overlapFrames*ch; i++ {
				t := float32(i) / float32(s.overlapFrames*ch)
				overlapOut[i] = overlapOut[i]*(1-t) + seq[i]*t
			}
			out = append(out, seq[s.overlapFrames*ch:len(seq)-s.overlapFrames*ch]...)
		}
		consumed += stepFrames
	}

	if consumed > framesAvailable {
		consumed = framesAvailable
	}
	remainder := s.pending[consumed*ch:]
	if flush {
		out = append(out, remainder...)
		s.pending = s.pending[:0]
	} else {
		s.pending = append(s.pending[:0], remainder...)
	}
	return out
}
