// Package timing implements §4.9's timing correction: filling missing
// timestamps, and dropping/cropping/zero-padding samples at segment
// boundaries so that frames leaving the stage carry monotonically
// non-decreasing (start, stop) pairs.
package timing

import (
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Policy is the decision timing correction reaches for one inbound
// sample (§4.9 step 2).
type Policy int

const (
	PolicyPassThrough Policy = iota
	PolicyDrop
	PolicyCrop
	PolicyZeroPad
)

// SampleProperties mirrors the inbound sample metadata of §3/§6.
type SampleProperties struct {
	TimeValid     bool
	StopValid     bool
	Start         int64 // 100ns ticks
	Stop          int64 // 100ns ticks
	Discontinuity bool
	FormatChanged bool
	SplicePoint   bool
	Payload       []byte
	NewFormat     *renderpipe.WaveFormat
}

// Segment holds the per-segment state of §3 ("Segment state"). Destroyed
// on Stop (drop the value); reset on NewSegment.
type Segment struct {
	segmentStart          int64
	haveSegmentStart       bool
	framesInCurrentFormat int64
	elapsedInPriorFormats int64
	lastSampleEnd         int64
	rate                  float64
	freshSegment          bool
	freshBuffer           bool
	timingsError          int64
}

// Correction applies §4.9's algorithm. It is driven per inbound sample by
// Process, and per format change by NewFormat.
type Correction struct {
	format renderpipe.WaveFormat
	seg    Segment
}

// New constructs a Correction stage bound to no format yet; call Bind
// before first use -- in practice the Renderer calls Bind and then
// NewSegment from SetFormat.
func New() *Correction {
	return &Correction{}
}

// Bind sets the current wave format (called on SetFormat and whenever a
// sample carries a FormatChanged + NewFormat override).
func (c *Correction) Bind(format renderpipe.WaveFormat) {
	c.format = format
}

// NewSegment resets the segment state for a new playback-rate epoch
// (§4.14: "reset timing correction with the new rate").
func (c *Correction) NewSegment(rate float64) {
	c.seg = Segment{
		rate:         rate,
		freshSegment: true,
		freshBuffer:  true,
	}
}

// NewFormat advances elapsedInPriorFormats by the time represented by
// framesInCurrentFormat (at the format active before this call) and
// resets framesInCurrentFormat to zero (§4.9). The Renderer must drain
// the DSP stack for the old format before calling this.
func (c *Correction) NewFormat(newFormat renderpipe.WaveFormat) {
	c.seg.elapsedInPriorFormats += renderpipe.FramesToTicks(int(c.seg.framesInCurrentFormat), c.format.SampleRate)
	c.seg.framesInCurrentFormat = 0
	c.seg.freshBuffer = true
	c.format = newFormat
}

// TimingsError returns the most recently computed timing error (start -
// expected), in 100ns ticks, for the rate stage to consume (§7: "not
// errors; expressed as timingsError").
func (c *Correction) TimingsError() int64 { return c.seg.timingsError }

// Result is the outcome of processing one inbound sample.
type Result struct {
	Policy Policy
	Chunk  *renderpipe.Chunk // nil for Drop
}

// expectedStart computes the "where we expected this sample to start"
// position: segmentStart + (elapsedInPriorFormats + time-so-far-in-this-
// format) / rate.
func (c *Correction) expectedStart() int64 {
	elapsed := c.seg.elapsedInPriorFormats + renderpipe.FramesToTicks(int(c.seg.framesInCurrentFormat), c.format.SampleRate)
	rate := c.seg.rate
	if rate == 0 {
		rate = 1
	}
	base := int64(0)
	if c.seg.haveSegmentStart {
		base = c.seg.segmentStart
	}
	return base + int64(float64(elapsed)/rate)
}

// durationTicks computes the 100ns duration represented by byteLen bytes
// of payload in the current format (§4.9 step 1: "bytes x8/bits/channels
// x second/sampleRate").
func (c *Correction) durationTicks(byteLen int) int64 {
	if c.format.ValidBits == 0 || c.format.Channels == 0 {
		return 0
	}
	frames := byteLen * 8 / c.format.ValidBits / c.format.Channels
	rate := c.seg.rate
	if rate == 0 {
		rate = 1
	}
	return int64(float64(renderpipe.FramesToTicks(frames, c.format.SampleRate)) / rate)
}

// Process runs one inbound sample through §4.9's fill/decide/accumulate
// algorithm.
func (c *Correction) Process(sample SampleProperties) Result {
	if sample.FormatChanged && sample.NewFormat != nil {
		c.NewFormat(*sample.NewFormat)
	}

	start := sample.Start
	stop := sample.Stop

	// Step 1: fill missing timestamps.
	if !sample.TimeValid {
		start = c.expectedStart()
	}
	if !sample.StopValid {
		stop = start + c.durationTicks(len(sample.Payload))
	}

	bitstream := c.format.SampleFormat.IsBitstream()

	// Step 2: decide policy.
	switch {
	case bitstream && c.seg.freshBuffer && !sample.SplicePoint:
		c.seg.freshBuffer = false
		c.seg.timingsError = start - c.expectedStart()
		return Result{Policy: PolicyDrop}

	case !bitstream && c.seg.freshSegment && stop <= 0:
		c.seg.freshBuffer = false
		c.seg.timingsError = start - c.expectedStart()
		return Result{Policy: PolicyDrop}

	case !bitstream && c.seg.freshSegment && start < c.seg.lastSampleEnd:
		cropTicks := c.seg.lastSampleEnd - start
		cropFrames := renderpipe.TicksToFrames(cropTicks, c.format.SampleRate)
		chunk := c.payloadChunk(sample.Payload)
		_ = chunk.ShrinkHeadFrames(cropFrames)
		newStart := c.seg.lastSampleEnd
		c.accumulate(newStart, stop, chunk)
		return Result{Policy: PolicyCrop, Chunk: chunk}

	case !bitstream && c.seg.freshSegment && start > c.seg.lastSampleEnd:
		padTicks := start - c.seg.lastSampleEnd
		padFrames := renderpipe.TicksToFrames(padTicks, c.format.SampleRate)
		chunk := c.payloadChunk(sample.Payload)
		chunk.PrependZeroFrames(padFrames)
		newStart := c.seg.lastSampleEnd
		c.accumulate(newStart, stop, chunk)
		return Result{Policy: PolicyZeroPad, Chunk: chunk}

	default:
		chunk := c.payloadChunk(sample.Payload)
		c.accumulate(start, stop, chunk)
		return Result{Policy: PolicyPassThrough, Chunk: chunk}
	}
}

// payloadChunk wraps raw sample bytes as a borrowed Chunk in the stage's
// current format (bitstream chunks carry their payload verbatim, with no
// frame-size invariant).
func (c *Correction) payloadChunk(payload []byte) *renderpipe.Chunk {
	return renderpipe.NewBorrowedChunk(c.format, payload, nil)
}

// accumulate implements §4.9 step 3.
func (c *Correction) accumulate(start, stop int64, chunk *renderpipe.Chunk) {
	if c.seg.freshSegment && !c.seg.haveSegmentStart {
		c.seg.segmentStart = start
		c.seg.haveSegmentStart = true
	}
	c.seg.freshSegment = false
	c.seg.freshBuffer = false
	c.seg.framesInCurrentFormat += int64(chunk.Frames())
	c.seg.timingsError = start - c.expectedStart()
	c.seg.lastSampleEnd = stop
}
