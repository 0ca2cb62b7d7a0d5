// Package samplesource implements §6's sample source interface: the side
// that calls into the Renderer (checkFormat/setFormat/newSegment/
// receive/endOfStream/beginFlush/endFlush), plus a WAV-file-backed
// implementation grounded on the teacher's go-audio/wav usage.
package samplesource

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiorender/audiorender/internal/renderer"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// CheckFormat reports whether fmt is one of §6's accepted families:
// IEEE float (32/64 bit) or linear PCM (8/16/24/32 bit).
func CheckFormat(fmt renderpipe.WaveFormat) error {
	switch fmt.SampleFormat {
	case renderpipe.FormatS8, renderpipe.FormatS16, renderpipe.FormatS24,
		renderpipe.FormatS32, renderpipe.FormatF32, renderpipe.FormatF64:
		return fmt.Validate()
	default:
		return fmt2Error(fmt)
	}
}

func fmt2Error(f renderpipe.WaveFormat) error {
	return fmt.Errorf("samplesource: unsupported sample format %s", f.SampleFormat)
}

// WAVSource reads a PCM WAV file and drives a Renderer chunk by chunk,
// grounded on the teacher's readAudioData (birdnet.go), adapted from a
// one-shot decode into a streaming receive loop against the renderer's
// enqueue/finish/newSegment contract.
type WAVSource struct {
	path       string
	chunkBytes int
}

// NewWAVSource constructs a file-backed source reading chunkFrames at a
// time.
func NewWAVSource(path string, chunkFrames int) *WAVSource {
	return &WAVSource{path: path, chunkBytes: chunkFrames}
}

// Play decodes the file and pushes it through r as a single segment at
// normal rate, returning once finish(true) has observed end-of-stream.
func (w *WAVSource) Play(r *renderer.Renderer) error {
	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return fmt.Errorf("samplesource: %q is not a valid WAV file", w.path)
	}

	channels := int(decoder.NumChans)
	sampleFormat, err := bitDepthToFormat(int(decoder.BitDepth))
	if err != nil {
		return err
	}
	format := renderpipe.NewPCMFormat(int(decoder.SampleRate), channels, maskForChannels(channels), sampleFormat)

	if err := CheckFormat(format); err != nil {
		return err
	}
	if err := r.SetFormat(format, false); err != nil {
		return err
	}
	r.NewSegment(1.0)

	frames := w.chunkBytes
	if frames <= 0 {
		frames = 4096
	}
	buf := &audio.IntBuffer{
		Data:   make([]int, frames*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}

	divisor := int64(1) << (uint(decoder.BitDepth) - 1)
	start := int64(0)
	frameSize := format.FrameSize()

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		samples := n / channels
		payload := make([]byte, samples*frameSize)
		for f := 0; f < samples; f++ {
			for c := 0; c < channels; c++ {
				v := float64(buf.Data[f*channels+c]) / float64(divisor)
				renderpipe.SetSampleAt(payload, sampleFormat, channels, f, c, v)
			}
		}

		stop := start + renderpipe.FramesToTicks(samples, format.SampleRate)
		ok, err := r.Enqueue(renderer.Sample{
			TimeValid: true,
			StopValid: true,
			Start:     start,
			Stop:      stop,
			Payload:   payload,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		start = stop
	}

	_, err = r.Finish(true)
	return err
}

func bitDepthToFormat(bits int) (renderpipe.SampleFormat, error) {
	switch bits {
	case 8:
		return renderpipe.FormatS8, nil
	case 16:
		return renderpipe.FormatS16, nil
	case 24:
		return renderpipe.FormatS24, nil
	case 32:
		return renderpipe.FormatS32, nil
	default:
		return renderpipe.FormatUnknown, fmt.Errorf("samplesource: unsupported WAV bit depth %d", bits)
	}
}

func maskForChannels(channels int) renderpipe.ChannelMask {
	switch channels {
	case 1:
		return renderpipe.MaskMono
	case 2:
		return renderpipe.MaskStereo
	case 6:
		return renderpipe.Mask5Point1
	case 8:
		return renderpipe.Mask7Point1
	default:
		return renderpipe.MaskStereo
	}
}
