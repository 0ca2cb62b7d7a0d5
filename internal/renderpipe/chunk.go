package renderpipe

import "fmt"

// payloadKind distinguishes the two states a Chunk's backing storage can be
// in, per §9's "deferred-copy Chunk" design note.
type payloadKind int

const (
	payloadOwned payloadKind = iota
	payloadBorrowed
)

// KeepAlive is held by a borrowed Chunk to keep the producer's buffer
// alive until the Chunk either copies it (on first mutating access) or is
// dropped. It has no methods of its own; it is retained purely for its
// side effect of preventing garbage collection / reuse of producer memory.
type KeepAlive any

// Chunk owns a contiguous, channel-interleaved PCM buffer (or an opaque
// bitstream payload) traversing the renderer pipeline. See §3 for the
// invariants: dataSize % frameSize == 0; headOffset+dataSize <= capacity;
// isEmpty <=> dataSize == 0; FormatUnknown never participates in DSP.
type Chunk struct {
	format WaveFormat

	kind      payloadKind
	owned     []byte // valid when kind == payloadOwned
	borrowed  []byte // valid when kind == payloadBorrowed (view into producer memory)
	keepAlive KeepAlive

	headOffset int // bytes to skip from the start of the payload
	dataSize   int // bytes of valid payload after headOffset
	tailLimit  int // trailing bytes beyond headOffset+dataSize to ignore
}

// NewOwnedChunk creates a Chunk that owns buf outright. Its frame count is
// derived from len(buf) and format.FrameSize(); for bitstream
// (FormatUnknown) chunks there is no frame boundary.
func NewOwnedChunk(format WaveFormat, buf []byte) *Chunk {
	return &Chunk{
		format:   format,
		kind:     payloadOwned,
		owned:    buf,
		dataSize: len(buf),
	}
}

// NewBorrowedChunk creates a Chunk that views producer-owned memory. The
// first mutating access (Data, ShrinkHead/Tail never mutate payload bytes
// themselves but ToFormat does) copies buf into an owned allocation;
// keepAlive is retained until that copy happens or the Chunk is discarded.
func NewBorrowedChunk(format WaveFormat, buf []byte, keepAlive KeepAlive) *Chunk {
	return &Chunk{
		format:    format,
		kind:      payloadBorrowed,
		borrowed:  buf,
		dataSize:  len(buf),
		keepAlive: keepAlive,
	}
}

// Format returns the chunk's wave format.
func (c *Chunk) Format() WaveFormat { return c.format }

// Frames returns the number of frames of valid payload.
func (c *Chunk) Frames() int {
	fs := c.format.FrameSize()
	if fs == 0 {
		return 0
	}
	return c.dataSize / fs
}

// IsEmpty reports dataSize == 0 (§3 invariant).
func (c *Chunk) IsEmpty() bool { return c.dataSize == 0 }

// readOnly returns the current payload bytes without forcing a
// borrowed->owned copy, for stages that only need to read.
func (c *Chunk) readOnly() []byte {
	var base []byte
	if c.kind == payloadOwned {
		base = c.owned
	} else {
		base = c.borrowed
	}
	end := c.headOffset + c.dataSize
	if end > len(base) {
		end = len(base)
	}
	if c.headOffset > end {
		return nil
	}
	return base[c.headOffset:end]
}

// Data materializes the chunk's current bytes, performing the
// borrowed->owned copy on first mutating access (§9).
func (c *Chunk) Data() []byte {
	c.materialize()
	end := c.headOffset + c.dataSize
	return c.owned[c.headOffset:end]
}

// materialize copies borrowed payload into an owned allocation exactly
// once; subsequent calls are no-ops.
func (c *Chunk) materialize() {
	if c.kind == payloadOwned {
		return
	}
	buf := make([]byte, len(c.borrowed))
	copy(buf, c.borrowed)
	c.owned = buf
	c.borrowed = nil
	c.keepAlive = nil
	c.kind = payloadOwned
}

// Capacity returns the total backing allocation size, including bytes
// outside [headOffset, headOffset+dataSize).
func (c *Chunk) Capacity() int {
	if c.kind == payloadOwned {
		return len(c.owned)
	}
	return len(c.borrowed)
}

// ShrinkHead drops n bytes from the front of the valid payload without
// reallocation (§4.1).
func (c *Chunk) ShrinkHead(n int) error {
	if n < 0 || n > c.dataSize {
		return fmt.Errorf("renderpipe: shrinkHead(%d) out of range for dataSize %d", n, c.dataSize)
	}
	c.headOffset += n
	c.dataSize -= n
	return nil
}

// ShrinkTail drops n trailing bytes from the valid payload without
// reallocation (§4.1).
func (c *Chunk) ShrinkTail(n int) error {
	if n < 0 || n > c.dataSize {
		return fmt.Errorf("renderpipe: shrinkTail(%d) out of range for dataSize %d", n, c.dataSize)
	}
	c.dataSize -= n
	c.tailLimit += n
	return nil
}

// ShrinkHeadFrames is ShrinkHead expressed in frames.
func (c *Chunk) ShrinkHeadFrames(frames int) error {
	return c.ShrinkHead(frames * c.format.FrameSize())
}

// PrependZeroFrames pads n silent frames in front of the chunk's current
// payload, used by timing correction's zero-pad policy (§4.9). It always
// materializes an owned buffer.
func (c *Chunk) PrependZeroFrames(n int) {
	if n <= 0 {
		return
	}
	fs := c.format.FrameSize()
	padBytes := n * fs
	cur := c.Data()
	buf := make([]byte, padBytes+len(cur))
	copy(buf[padBytes:], cur)
	c.owned = buf
	c.headOffset = 0
	c.dataSize = len(buf)
	c.tailLimit = 0
}

// ToFormat converts the chunk in place to dst, a no-op if the chunk is
// already in dst or is empty (§4.1). Bitstream chunks (FormatUnknown) must
// never be converted.
func (c *Chunk) ToFormat(dst SampleFormat) error {
	if c.format.SampleFormat.IsBitstream() {
		return fmt.Errorf("renderpipe: cannot convert bitstream chunk")
	}
	if c.format.SampleFormat == dst || c.IsEmpty() {
		return nil
	}

	frames := c.Frames()
	dstFrameSize := c.format.Channels * dst.ContainerBytes()
	out := make([]byte, frames*dstFrameSize)
	ConvertBuffer(c.readOnly(), c.format.SampleFormat, out, dst, frames, c.format.Channels)

	c.owned = out
	c.borrowed = nil
	c.keepAlive = nil
	c.kind = payloadOwned
	c.headOffset = 0
	c.dataSize = len(out)
	c.tailLimit = 0
	newFormat := c.format
	newFormat.SampleFormat = dst
	newFormat.ContainerBits = dst.ContainerBytes() * 8
	newFormat.ValidBits = newFormat.ContainerBits
	c.format = newFormat
	return nil
}

// ToF32 reads the chunk's samples as a slice of normalized float32 values,
// channel-interleaved, without mutating the chunk. Panics on bitstream
// chunks; callers must gate DSP stages on SampleFormat.IsBitstream first.
func (c *Chunk) ToF32() []float32 {
	if c.format.SampleFormat.IsBitstream() {
		panic("renderpipe: ToF32 on bitstream chunk")
	}
	frames := c.Frames()
	out := make([]float32, frames*c.format.Channels)
	buf := c.readOnly()
	stride := c.format.SampleFormat.ContainerBytes()
	for i := range out {
		out[i] = float32(sampleToFloat64(buf, i*stride, c.format.SampleFormat))
	}
	return out
}

// NewF32Chunk builds an owned Chunk holding data (already normalized,
// channel-interleaved float32 samples) tagged with format's rate/channel
// layout but SampleFormat forced to FormatF32.
func NewF32Chunk(format WaveFormat, data []float32) *Chunk {
	f32Format := format
	f32Format.SampleFormat = FormatF32
	f32Format.ContainerBits = 32
	f32Format.ValidBits = 32

	buf := make([]byte, len(data)*4)
	for i, v := range data {
		float64ToSample(float64(v), buf, i*4, FormatF32)
	}
	return NewOwnedChunk(f32Format, buf)
}

// Clone returns a deep, owned copy of the chunk, independent of any
// producer keep-alive.
func (c *Chunk) Clone() *Chunk {
	data := c.readOnly()
	buf := make([]byte, len(data))
	copy(buf, data)
	return NewOwnedChunk(c.format, buf)
}
