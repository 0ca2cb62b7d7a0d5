package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

func newTestCorrection() *Correction {
	c := New()
	format := renderpipe.NewPCMFormat(48000, 1, renderpipe.MaskMono, renderpipe.FormatS16)
	c.Bind(format)
	c.NewSegment(1.0)
	return c
}

func TestProcess_FirstSampleStartingAtZeroPassesThroughAndSetsSegmentStart(t *testing.T) {
	c := newTestCorrection()
	payload := make([]byte, 8) // 4 frames mono s16
	result := c.Process(SampleProperties{
		TimeValid: true,
		StopValid: true,
		Start:     0,
		Stop:      2000,
		Payload:   payload,
	})
	require.Equal(t, PolicyPassThrough, result.Policy)
	require.NotNil(t, result.Chunk)
	assert.Equal(t, 4, result.Chunk.Frames())
	assert.Equal(t, int64(0), c.seg.segmentStart)
}

func TestProcess_FirstSampleStartingLateZeroPadsFromZero(t *testing.T) {
	c := newTestCorrection()
	payload := make([]byte, 8) // 4 frames mono s16
	result := c.Process(SampleProperties{
		TimeValid: true,
		StopValid: true,
		Start:     1000,
		Stop:      2000,
		Payload:   payload,
	})
	require.Equal(t, PolicyZeroPad, result.Policy)
	require.NotNil(t, result.Chunk)
	assert.Greater(t, result.Chunk.Frames(), 4)
}

func TestProcess_NegativeStopAtSegmentStartDrops(t *testing.T) {
	c := newTestCorrection()
	result := c.Process(SampleProperties{
		TimeValid: true,
		StopValid: true,
		Start:     -500,
		Stop:      -100,
		Payload:   make([]byte, 8),
	})
	assert.Equal(t, PolicyDrop, result.Policy)
	assert.Nil(t, result.Chunk)
}

func TestProcess_OverlapAtSegmentStartCrops(t *testing.T) {
	c := newTestCorrection()
	c.seg.lastSampleEnd = 2000
	c.seg.freshSegment = true

	result := c.Process(SampleProperties{
		TimeValid: true,
		StopValid: true,
		Start:     1000, // < lastSampleEnd(2000) -> crop
		Stop:      3000,
		Payload:   make([]byte, 16), // 8 frames
	})
	require.Equal(t, PolicyCrop, result.Policy)
	require.NotNil(t, result.Chunk)
	assert.Less(t, result.Chunk.Frames(), 8)
}

func TestProcess_GapAtSegmentStartZeroPads(t *testing.T) {
	c := newTestCorrection()
	c.seg.lastSampleEnd = 1000
	c.seg.freshSegment = true

	result := c.Process(SampleProperties{
		TimeValid: true,
		StopValid: true,
		Start:     2000, // > lastSampleEnd(1000) -> zero pad
		Stop:      3000,
		Payload:   make([]byte, 8), // 4 frames
	})
	require.Equal(t, PolicyZeroPad, result.Policy)
	require.NotNil(t, result.Chunk)
	assert.Greater(t, result.Chunk.Frames(), 4)
}

func TestProcess_FillsMissingTimestampsFromExpectedStart(t *testing.T) {
	c := newTestCorrection()
	c.Process(SampleProperties{
		TimeValid: true, StopValid: true,
		Start: 0, Stop: 1000, Payload: make([]byte, 8),
	})
	result := c.Process(SampleProperties{
		TimeValid: false,
		StopValid: false,
		Payload:   make([]byte, 8),
	})
	require.Equal(t, PolicyPassThrough, result.Policy)
}

func TestProcess_BitstreamFirstBufferWithoutSplicePointDrops(t *testing.T) {
	c := New()
	bitstreamFormat := renderpipe.WaveFormat{
		SampleRate:   48000,
		Channels:     2,
		ChannelMask:  renderpipe.MaskStereo,
		SampleFormat: renderpipe.FormatUnknown,
	}
	c.Bind(bitstreamFormat)
	c.NewSegment(1.0)

	result := c.Process(SampleProperties{
		TimeValid:   true,
		StopValid:   true,
		Start:       0,
		Stop:        1000,
		SplicePoint: false,
		Payload:     make([]byte, 16),
	})
	assert.Equal(t, PolicyDrop, result.Policy)
}

func TestProcess_BitstreamFirstBufferAtSplicePointPassesThrough(t *testing.T) {
	c := New()
	bitstreamFormat := renderpipe.WaveFormat{
		SampleRate:   48000,
		Channels:     2,
		ChannelMask:  renderpipe.MaskStereo,
		SampleFormat: renderpipe.FormatUnknown,
	}
	c.Bind(bitstreamFormat)
	c.NewSegment(1.0)

	result := c.Process(SampleProperties{
		TimeValid:   true,
		StopValid:   true,
		Start:       0,
		Stop:        1000,
		SplicePoint: true,
		Payload:     make([]byte, 16),
	})
	assert.Equal(t, PolicyPassThrough, result.Policy)
}

func TestNewFormat_AccumulatesElapsedAndResetsFrameCounter(t *testing.T) {
	c := newTestCorrection()
	c.seg.framesInCurrentFormat = 480 // 10ms at 48kHz
	oldFormat := c.format
	newFormat := oldFormat
	newFormat.SampleRate = 96000

	c.NewFormat(newFormat)
	assert.Equal(t, int64(0), c.seg.framesInCurrentFormat)
	assert.Greater(t, c.seg.elapsedInPriorFormats, int64(0))
	assert.True(t, c.seg.freshBuffer)
}

func TestTimingsError_ZeroForFirstSampleWithNoPayload(t *testing.T) {
	c := newTestCorrection()
	// an empty-payload sample contributes zero frames, so it cannot shift
	// expectedStart away from the segmentStart it just established.
	result := c.Process(SampleProperties{
		TimeValid: true, StopValid: true,
		Start: 0, Stop: 500,
	})
	require.Equal(t, PolicyPassThrough, result.Policy)
	assert.Equal(t, int64(0), c.TimingsError())
}
