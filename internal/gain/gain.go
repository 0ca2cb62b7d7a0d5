// Package gain implements §4.8's volume and balance stage: a scalar gain
// applied to all channels, plus a stereo-only balance attenuation of one
// channel.
package gain

import (
	"sync/atomic"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Params is a read-only snapshot of the current volume/balance settings,
// stored with SetParams and read by each Process call per §9's "parameter
// snapshot" design note (replacing a reference cycle back into the
// Renderer).
type Params struct {
	Volume  float64 // v in [0, 1]
	Balance float64 // b in [-1, 1]; bypassed for non-stereo
}

// Stage implements renderpipe.Stage. Volume/balance are read from an
// atomic snapshot replaced by SetParams (§9), so Process can run without
// racing a concurrent SetParams. The Renderer does not call SetParams, so
// the stage it builds stays at New's unity volume and centered balance.
type Stage struct {
	format   renderpipe.WaveFormat
	snapshot atomic.Pointer[Params]
}

// New constructs a gain stage at unity volume and centered balance.
func New() *Stage {
	s := &Stage{}
	s.SetParams(Params{Volume: 1.0, Balance: 0.0})
	return s
}

// SetParams atomically replaces the current volume/balance snapshot.
func (s *Stage) SetParams(p Params) {
	s.snapshot.Store(&p)
}

// Initialize records the bound format (balance is bypassed for
// non-stereo).
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	s.format = in
	return in, nil
}

// Process multiplies all samples by volume, then attenuates one stereo
// channel by |balance|.
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if in.IsEmpty() {
		return in, nil
	}
	p := s.snapshot.Load()
	if p.Volume == 1.0 && (p.Balance == 0.0 || s.format.Channels != 2) {
		return in, nil
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	samples := in.ToF32()
	frames := in.Frames()
	ch := in.Format().Channels

	leftGain, rightGain := 1.0, 1.0
	if ch == 2 {
		if p.Balance > 0 {
			leftGain = 1.0 - p.Balance
		} else if p.Balance < 0 {
			rightGain = 1.0 + p.Balance
		}
	}

	for f := 0; f < frames; f++ {
		for c := 0; c < ch; c++ {
			v := float64(samples[f*ch+c]) * p.Volume
			if ch == 2 {
				if c == 0 {
					v *= leftGain
				} else {
					v *= rightGain
				}
			}
			samples[f*ch+c] = float32(v)
		}
	}

	return renderpipe.NewF32Chunk(in.Format(), samples), nil
}

// Finish: gain has no cross-chunk state to drain.
func (s *Stage) Finish() (*renderpipe.Chunk, error) { return nil, nil }
