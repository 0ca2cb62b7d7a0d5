package tempo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

func TestInitialize_PrecomputesWindowFramesFromSampleRate(t *testing.T) {
	s := New(1.0)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)
	assert.Equal(t, 48000*40/1000, s.sequenceFrames)
	assert.Equal(t, 48000*15/1000, s.seekFrames)
	assert.Equal(t, 48000*8/1000, s.overlapFrames)
}

func TestInitialize_RejectsBitstream(t *testing.T) {
	s := New(1.0)
	in := renderpipe.WaveFormat{SampleRate: 48000, Channels: 2, ChannelMask: renderpipe.MaskStereo, SampleFormat: renderpipe.FormatUnknown}
	_, err := s.Initialize(in)
	assert.Error(t, err)
}

func TestProcess_UnityRateIsPassThrough(t *testing.T) {
	s := New(1.0)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	chunk := renderpipe.NewF32Chunk(in, []float32{0.1, 0.2, 0.3})
	out, err := s.Process(chunk)
	require.NoError(t, err)
	assert.Same(t, chunk, out)
}

func TestSetRate_SwitchesFromPassThroughToStretching(t *testing.T) {
	s := New(1.0)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	s.SetRate(1.25)
	samples := make([]float32, s.sequenceFrames*2)
	for i := range samples {
		samples[i] = float32(i) * 0.0001
	}
	chunk := renderpipe.NewF32Chunk(in, samples)
	out, err := s.Process(chunk)
	require.NoError(t, err)
	assert.NotSame(t, chunk, out)
}

func TestProcess_BuffersPartialSequenceUntilEnoughFramesArrive(t *testing.T) {
	s := New(1.5)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	small := renderpipe.NewF32Chunk(in, make([]float32, s.sequenceFrames/2))
	out, err := s.Process(small)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Frames())
	assert.Greater(t, len(s.pending), 0)
}

func TestFinish_FlushesResidualPendingFrames(t *testing.T) {
	s := New(1.5)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	small := renderpipe.NewF32Chunk(in, make([]float32, 100))
	_, err = s.Process(small)
	require.NoError(t, err)

	tail, err := s.Finish()
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, 100, tail.Frames())
	assert.Equal(t, 0, len(s.pending))
}

func TestFinish_UnityRateHasNoTail(t *testing.T) {
	s := New(1.0)
	in := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	tail, err := s.Finish()
	require.NoError(t, err)
	assert.Nil(t, tail)
}
