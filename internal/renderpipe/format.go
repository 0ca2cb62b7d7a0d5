// Package renderpipe holds the data model and DSP-stage contract shared by
// every stage of the renderer pipeline: the wave format descriptor, the
// Chunk buffer, and the interfaces each stage (channel matrix, resampler,
// tempo, crossfeed, limiter, dither, gain) implements.
package renderpipe

import "fmt"

// SampleFormat identifies the sample encoding of a Chunk or WaveFormat.
// FormatUnknown is reserved for bitstream passthrough: it never
// participates in DSP (see Chunk.ToFormat and the stage Process methods).
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatS8
	FormatS16
	FormatS24
	FormatS32
	FormatF32
	FormatF64
)

func (f SampleFormat) String() string {
	switch f {
	case FormatS8:
		return "s8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	case FormatF64:
		return "f64"
	default:
		return "unknown"
	}
}

// IsBitstream reports whether this format tag represents an opaque
// passthrough payload rather than linear PCM or float samples.
func (f SampleFormat) IsBitstream() bool { return f == FormatUnknown }

// ContainerBytes returns the storage size in bytes of one sample in this
// format's default container (i.e. ContainerBits/8 for the common case
// where a WaveFormat doesn't override ContainerBits, e.g. s32-in-24-valid).
func (f SampleFormat) ContainerBytes() int {
	switch f {
	case FormatS8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32:
		return 4
	case FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

// Speaker bits, ordered 0..17 per §3 of the spec.
type ChannelMask uint32

const (
	SpeakerFrontLeft ChannelMask = 1 << iota
	SpeakerFrontRight
	SpeakerFrontCenter
	SpeakerLowFrequency
	SpeakerBackLeft
	SpeakerBackRight
	SpeakerFrontLeftOfCenter
	SpeakerFrontRightOfCenter
	SpeakerBackCenter
	SpeakerSideLeft
	SpeakerSideRight
	SpeakerTopCenter
	SpeakerTopFrontLeft
	SpeakerTopFrontCenter
	SpeakerTopFrontRight
	SpeakerTopBackLeft
	SpeakerTopBackCenter
	SpeakerTopBackRight
)

// Common layouts used across the pipeline and by tests.
const (
	MaskMono    ChannelMask = SpeakerFrontCenter
	MaskStereo  ChannelMask = SpeakerFrontLeft | SpeakerFrontRight
	Mask5Point1 ChannelMask = SpeakerFrontLeft | SpeakerFrontRight | SpeakerFrontCenter |
		SpeakerLowFrequency | SpeakerBackLeft | SpeakerBackRight
	Mask7Point1 ChannelMask = Mask5Point1 | SpeakerSideLeft | SpeakerSideRight
)

// PopCount returns the number of speaker bits set, i.e. the channel count
// implied by this mask.
func (m ChannelMask) PopCount() int {
	count := 0
	for b := ChannelMask(1); b != 0; b <<= 1 {
		if m&b != 0 {
			count++
		}
	}
	return count
}

// Has reports whether speaker bit b is present in the mask.
func (m ChannelMask) Has(b ChannelMask) bool { return m&b != 0 }

// WaveFormat describes the layout of samples traveling through the
// pipeline. It is immutable once constructed and is always shared by
// reference (see §3).
type WaveFormat struct {
	SampleRate    int
	Channels      int
	ChannelMask   ChannelMask
	SampleFormat  SampleFormat
	ContainerBits int // bits per sample slot, e.g. 32 for s32-carrying-24-valid
	ValidBits     int // bits actually significant within the container
}

// NewPCMFormat builds a WaveFormat whose container and valid bits both
// equal the natural width of format.
func NewPCMFormat(rate, channels int, mask ChannelMask, format SampleFormat) WaveFormat {
	bits := format.ContainerBytes() * 8
	return WaveFormat{
		SampleRate:    rate,
		Channels:      channels,
		ChannelMask:   mask,
		SampleFormat:  format,
		ContainerBits: bits,
		ValidBits:     bits,
	}
}

// FrameSize returns the number of bytes occupied by one frame (one sample
// per channel) using ContainerBits as the per-sample slot width.
func (f WaveFormat) FrameSize() int {
	return f.Channels * (f.ContainerBits / 8)
}

// Validate returns an error if the format is structurally inconsistent.
func (f WaveFormat) Validate() error {
	if f.SampleFormat.IsBitstream() {
		return nil
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.ContainerBits <= 0 || f.ContainerBits%8 != 0 {
		return fmt.Errorf("container bits must be a positive multiple of 8, got %d", f.ContainerBits)
	}
	if f.ValidBits <= 0 || f.ValidBits > f.ContainerBits {
		return fmt.Errorf("valid bits %d out of range for container bits %d", f.ValidBits, f.ContainerBits)
	}
	return nil
}

// Equal reports whether two formats are identical in every field that
// matters for DSP stage reinitialization.
func (f WaveFormat) Equal(other WaveFormat) bool {
	return f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels &&
		f.ChannelMask == other.ChannelMask &&
		f.SampleFormat == other.SampleFormat &&
		f.ContainerBits == other.ContainerBits &&
		f.ValidBits == other.ValidBits
}
