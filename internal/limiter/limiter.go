// Package limiter implements §4.6's lookahead peak limiter: a
// piecewise-linear attenuation envelope built from a history of pivot
// points, with an attack window of rate/1700 frames and a release window
// of rate/70 frames.
package limiter

import (
	"math"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Limit returns the ceiling for the given output mode (§4.6: "1.0 in
// exclusive mode, 0.98 in shared mode").
func Limit(exclusive bool) float64 {
	if exclusive {
		return 1.0
	}
	return 0.98
}

// pivot is one point (frame_index, peak_level) on the envelope (§3).
type pivot struct {
	frame int64
	level float64
}

// Stage implements renderpipe.Stage.
type Stage struct {
	limit    float64
	channels int

	attackFrames  int64
	releaseFrames int64
	windowFrames  int64

	pivots []pivot

	pending       []*renderpipe.Chunk
	pendingFrames int64

	analyzedFrames int64 // absolute frame index up to which Analysis has run
	emittedFrames  int64 // absolute frame index of the next frame to emit
	format         renderpipe.WaveFormat
}

// New constructs a limiter at the given ceiling (use Limit(exclusive)).
func New(limit float64) *Stage {
	return &Stage{limit: limit}
}

// Initialize binds the stage to an input format and computes the
// attack/release/window frame counts for that sample rate.
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	s.format = in
	s.channels = in.Channels
	if in.SampleFormat.IsBitstream() {
		return in, nil
	}
	s.attackFrames = int64(in.SampleRate) / 1700
	s.releaseFrames = int64(in.SampleRate) / 70
	s.windowFrames = s.attackFrames + s.releaseFrames
	s.pivots = s.pivots[:0]
	s.pending = nil
	s.pendingFrames = 0
	s.analyzedFrames = 0
	s.emittedFrames = 0
	return in, nil
}

// Process buffers the chunk, analyzes it for new peaks, and emits as many
// leading buffered chunks as the lookahead window now permits.
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if s.format.SampleFormat.IsBitstream() {
		return in, nil
	}
	if in.IsEmpty() {
		return s.tryEmit(false)
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}

	s.analyze(in)
	s.pending = append(s.pending, in)
	s.pendingFrames += int64(in.Frames())

	return s.tryEmit(false)
}

// Finish drains the remaining buffered chunks, applying whatever envelope
// remains (§4.6 emission semantics still apply, just without further
// lookahead arriving).
func (s *Stage) Finish() (*renderpipe.Chunk, error) {
	if s.format.SampleFormat.IsBitstream() {
		return nil, nil
	}
	return s.tryEmit(true)
}

// analyze scans chunk's frames (already f32) for new peaks above s.limit,
// updating the pivot history per §4.6.
func (s *Stage) analyze(chunk *renderpipe.Chunk) {
	samples := chunk.ToF32()
	frames := chunk.Frames()
	ch := s.channels

	for f := 0; f < frames; f++ {
		absFrame := s.analyzedFrames + int64(f)
		maxAbs := 0.0
		for c := 0; c < ch; c++ {
			v := math.Abs(float64(samples[f*ch+c]))
			if v > maxAbs {
				maxAbs = v
			}
		}
		if maxAbs > s.limit {
			s.recordPeak(absFrame, maxAbs)
		}
	}
	s.analyzedFrames += int64(frames)
}

// recordPeak implements §4.6's peak-history update.
func (s *Stage) recordPeak(peakFrame int64, level float64) {
	if len(s.pivots) == 0 {
		s.pivots = append(s.pivots,
			pivot{peakFrame - s.attackFrames, s.limit},
			pivot{peakFrame, level},
			pivot{peakFrame + s.releaseFrames, s.limit},
		)
		return
	}

	// If the new peak doesn't rise above the line already extrapolated
	// from the existing pivots, the current envelope already covers it;
	// consume it without touching the pivot history.
	n := len(s.pivots)
	if n >= 2 {
		oldLine := lineValue(s.pivots[n-2], s.pivots[n-1], peakFrame)
		if level <= oldLine {
			return
		}
		s.pivots = s.pivots[:n-1]
	}

	// Repeatedly drop interior pivots dominated by the line from the new
	// pivot back to the third-from-last pivot.
	for len(s.pivots) >= 3 {
		n := len(s.pivots)
		anchor := s.pivots[n-3]
		candidate := pivot{peakFrame, level}
		dominatedLevel := lineValue(anchor, candidate, s.pivots[n-2].frame)
		if s.pivots[n-2].level <= dominatedLevel {
			s.pivots = append(s.pivots[:n-2], s.pivots[n-1])
		} else {
			break
		}
	}

	s.pivots = append(s.pivots, pivot{peakFrame, level}, pivot{peakFrame + s.releaseFrames, s.limit})
}

// lineValue linearly interpolates (or extrapolates) the envelope value at
// frame along the line through a and b.
func lineValue(a, b pivot, frame int64) float64 {
	if b.frame == a.frame {
		return b.level
	}
	t := float64(frame-a.frame) / float64(b.frame-a.frame)
	return a.level + t*(b.level-a.level)
}

// envelopeAt returns the attenuation envelope value at absolute frame
// index idx, popping pivots whose frame has been crossed.
func (s *Stage) envelopeAt(idx int64) float64 {
	for len(s.pivots) >= 2 && idx >= s.pivots[1].frame {
		s.pivots = s.pivots[1:]
	}
	if len(s.pivots) < 2 {
		return s.limit
	}
	return lineValue(s.pivots[0], s.pivots[1], idx)
}

// tryEmit releases leading buffered chunks while the combined pending
// length (minus the oldest chunk) still holds >= windowFrames of
// lookahead, or unconditionally when flush is true.
func (s *Stage) tryEmit(flush bool) (*renderpipe.Chunk, error) {
	var outSamples []float32
	outFrames := 0

	for len(s.pending) > 0 {
		oldest := s.pending[0]
		oldestFrames := int64(oldest.Frames())
		lookahead := s.pendingFrames - oldestFrames
		if !flush && lookahead < s.windowFrames {
			break
		}

		samples := oldest.ToF32()
		for f := 0; f < oldest.Frames(); f++ {
			idx := s.emittedFrames + int64(f)
			env := s.envelopeAt(idx)
			scale := s.limit / env
			for c := 0; c < s.channels; c++ {
				outSamples = append(outSamples, samples[f*s.channels+c]*float32(scale))
			}
		}

		s.emittedFrames += oldestFrames
		s.pendingFrames -= oldestFrames
		outFrames += oldest.Frames()
		s.pending = s.pending[1:]
	}

	if outFrames == 0 {
		return nil, nil
	}
	return renderpipe.NewF32Chunk(s.format, outSamples), nil
}
