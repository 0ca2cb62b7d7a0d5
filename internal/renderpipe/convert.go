package renderpipe

import "math"

// Full-scale constants used by the float<->integer scaling rules in §4.1.
// Float->integer conversions for s24/s32 deliberately scale by
// (INT_MAX - 127) rather than INT_MAX, leaving rounding headroom; s16 uses
// the plain INT16_MAX since the spec calls out headroom only for the wider
// formats. s8 has no headroom rule in the spec either, so it uses its own
// full-scale INT8_MAX.
const (
	int8Max  = 1 << 7 - 1
	int16Max = 1 << 15 - 1
	int24Max = 1 << 23 - 1
	int32Max = 1<<31 - 1
)

// sampleToFloat64 reads one sample of the given integer or float format at
// byte offset off in buf and returns it normalized to roughly [-1, 1].
func sampleToFloat64(buf []byte, off int, format SampleFormat) float64 {
	switch format {
	case FormatS8:
		v := int8(buf[off])
		return float64(v) / float64(int8Max+1)
	case FormatS16:
		v := int16(uint16(buf[off]) | uint16(buf[off+1])<<8)
		return float64(v) / float64(int16Max+1)
	case FormatS24:
		raw := int32(buf[off]) | int32(buf[off+1])<<8 | int32(buf[off+2])<<16
		if raw&(1<<23) != 0 {
			raw |= ^int32(0xFFFFFF) // sign-extend 24 -> 32
		}
		return float64(raw) / float64(int24Max+1)
	case FormatS32:
		raw := int32(uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24)
		return float64(raw) / float64(int32Max+1)
	case FormatF32:
		bits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
		return float64(math.Float32frombits(bits))
	case FormatF64:
		bits := uint64(0)
		for i := 0; i < 8; i++ {
			bits |= uint64(buf[off+i]) << (8 * i)
		}
		return math.Float64frombits(bits)
	default:
		return 0
	}
}

// float64ToSample writes v (normalized to roughly [-1, 1]) into buf at byte
// offset off, in the given format, clamping on overflow (see §9 rounding
// notes: unspecified float->int overflow is clamped).
func float64ToSample(v float64, buf []byte, off int, format SampleFormat) {
	switch format {
	case FormatS8:
		scaled := v * float64(int8Max)
		buf[off] = byte(int8(clampRound(scaled, -128, 127)))
	case FormatS16:
		scaled := v * float64(int16Max)
		s := int16(clampRound(scaled, -32768, 32767))
		buf[off] = byte(s)
		buf[off+1] = byte(s >> 8)
	case FormatS24:
		scaled := v * float64(int24Max-127)
		s := int32(clampRound(scaled, -1<<23, 1<<23-1))
		buf[off] = byte(s)
		buf[off+1] = byte(s >> 8)
		buf[off+2] = byte(s >> 16)
	case FormatS32:
		scaled := v * float64(int32Max-127)
		// Sign-extend into the high 24 bits when the intent is a 24-bit
		// value widened to a 32-bit container: shifting by 8 here would
		// double-scale, so s24->s32 goes through convertS24ToS32
		// instead. Here we just clamp-round a native 32-bit sample.
		s := int32(clampRound(scaled, -1<<31, 1<<31-1))
		buf[off] = byte(s)
		buf[off+1] = byte(s >> 8)
		buf[off+2] = byte(s >> 16)
		buf[off+3] = byte(s >> 24)
	case FormatF32:
		bits := math.Float32bits(float32(v))
		buf[off] = byte(bits)
		buf[off+1] = byte(bits >> 8)
		buf[off+2] = byte(bits >> 16)
		buf[off+3] = byte(bits >> 24)
	case FormatF64:
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(bits >> (8 * i))
		}
	}
}

func clampRound(v, lo, hi float64) float64 {
	r := math.Round(v)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// ConvertBuffer converts frames*channels interleaved samples from src
// (srcFormat) into dst (dstFormat). dst must already be sized for
// frames*channels*dstFormat.ContainerBytes() bytes. Exhaustive for the
// cross product of {s8, s16, s24, s32, f32, f64} per §4.1; bitstream
// (FormatUnknown) must never reach this function.
func ConvertBuffer(src []byte, srcFormat SampleFormat, dst []byte, dstFormat SampleFormat, frames, channels int) {
	if srcFormat.IsBitstream() || dstFormat.IsBitstream() {
		panic("renderpipe: bitstream format must not enter DSP conversion")
	}
	if srcFormat == dstFormat {
		copy(dst, src[:frames*channels*srcFormat.ContainerBytes()])
		return
	}

	// s24 -> s32 is handled specially: sign-extend into the high 24 bits
	// of the destination container rather than going through the
	// normalized-float intermediate, per §4.1 ("sign-extend s24->s32 into
	// the high 24 bits").
	if srcFormat == FormatS24 && dstFormat == FormatS32 {
		convertS24ToS32(src, dst, frames*channels)
		return
	}

	srcStride := srcFormat.ContainerBytes()
	dstStride := dstFormat.ContainerBytes()
	n := frames * channels
	for i := 0; i < n; i++ {
		v := sampleToFloat64(src, i*srcStride, srcFormat)
		float64ToSample(v, dst, i*dstStride, dstFormat)
	}
}

// convertS24ToS32 widens each 24-bit sample into a 32-bit container,
// placing the original value in the high 24 bits with sign extension,
// leaving the low 8 bits zero.
func convertS24ToS32(src, dst []byte, count int) {
	for i := 0; i < count; i++ {
		so := i * 3
		do := i * 4
		raw := uint32(src[so]) | uint32(src[so+1])<<8 | uint32(src[so+2])<<16
		widened := raw << 8
		dst[do] = byte(widened)
		dst[do+1] = byte(widened >> 8)
		dst[do+2] = byte(widened >> 16)
		dst[do+3] = byte(widened >> 24)
	}
}

// SampleAt reads a single normalized float64 sample for channel ch of
// frame idx from an interleaved buffer in the given format.
func SampleAt(buf []byte, format SampleFormat, channels, idx, ch int) float64 {
	stride := format.ContainerBytes()
	off := (idx*channels + ch) * stride
	return sampleToFloat64(buf, off, format)
}

// SetSampleAt writes a single normalized float64 sample for channel ch of
// frame idx into an interleaved buffer in the given format.
func SetSampleAt(buf []byte, format SampleFormat, channels, idx, ch int, v float64) {
	stride := format.ContainerBytes()
	off := (idx*channels + ch) * stride
	float64ToSample(v, buf, off, format)
}
