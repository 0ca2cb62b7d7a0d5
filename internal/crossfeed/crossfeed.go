// Package crossfeed implements §4.5's stereo head-related filter
// (BS2B-class) for headphone listening: a crossfeed blend plus a one-pole
// lowpass on the crossfed component, parameterized by cutoff and level.
package crossfeed

import (
	"math"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Config holds the settings-sourced crossfeed parameters (§6:
// "crossfeed() -> (enabled, cutoffHz in [300,2000], level in [10,150])").
// Two named presets from the spec:
const (
	PresetCMoyCutoffHz   = 700
	PresetCMoyLevel      = 60
	PresetJMeierCutoffHz = 650
	PresetJMeierLevel    = 95
)

type Config struct {
	Enabled  bool
	CutoffHz uint32
	Level    uint32
}

// Stage implements renderpipe.Stage. It is a pass-through unless enabled
// AND the format is stereo with the standard stereo mask (§4.5).
type Stage struct {
	cfg       Config
	settingsSerial uint32
	haveSerial     bool

	active bool
	format renderpipe.WaveFormat

	// One-pole lowpass state per channel for the crossfed component.
	lpState [2]float64
	lpAlpha float64
	gain    float64
}

// New constructs a crossfeed stage with the given initial config.
func New(cfg Config) *Stage {
	return &Stage{cfg: cfg}
}

// Initialize binds the stage to an input format and decides whether
// crossfeed is active for this stream.
func (s *Stage) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	s.format = in
	s.active = s.cfg.Enabled && !in.SampleFormat.IsBitstream() &&
		in.Channels == 2 && in.ChannelMask == renderpipe.MaskStereo
	if s.active {
		s.reconfigure(in.SampleRate)
	}
	return in, nil
}

// SyncSettings re-initializes the filter coefficients if the settings
// version has changed since the last call (§4.5: "re-initialize when the
// settings version changes").
func (s *Stage) SyncSettings(cfg Config, serial uint32) {
	if s.haveSerial && serial == s.settingsSerial {
		return
	}
	s.cfg = cfg
	s.settingsSerial = serial
	s.haveSerial = true
	s.active = s.cfg.Enabled && s.format.Channels == 2 && s.format.ChannelMask == renderpipe.MaskStereo
	if s.active {
		s.reconfigure(s.format.SampleRate)
	}
}

func (s *Stage) reconfigure(sampleRate int) {
	cutoff := float64(s.cfg.CutoffHz)
	if cutoff < 300 {
		cutoff = 300
	}
	if cutoff > 2000 {
		cutoff = 2000
	}
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	s.lpAlpha = dt / (rc + dt)

	level := float64(s.cfg.Level)
	if level < 10 {
		level = 10
	}
	if level > 150 {
		level = 150
	}
	s.gain = level / 100.0
	s.lpState[0] = 0
	s.lpState[1] = 0
}

// Process blends a lowpassed, attenuated opposite channel into each
// channel: out_L = L + gain * lowpass(R), out_R = R + gain * lowpass(L),
// the BS2B-class crossfeed structure.
func (s *Stage) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if !s.active || in.IsEmpty() {
		return in, nil
	}
	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	samples := in.ToF32()
	frames := in.Frames()

	for f := 0; f < frames; f++ {
		l := float64(samples[f*2])
		r := float64(samples[f*2+1])

		s.lpState[0] += s.lpAlpha * (r - s.lpState[0])
		s.lpState[1] += s.lpAlpha * (l - s.lpState[1])

		samples[f*2] = float32(l + s.gain*s.lpState[0])
		samples[f*2+1] = float32(r + s.gain*s.lpState[1])
	}

	return renderpipe.NewF32Chunk(in.Format(), samples), nil
}

// Finish: crossfeed has no cross-chunk lookahead to drain.
func (s *Stage) Finish() (*renderpipe.Chunk, error) { return nil, nil }
