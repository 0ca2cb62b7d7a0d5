// Package channelmatrix implements §4.2's up/downmix stage: a precomputed
// outCh x inCh gain matrix derived from an 18x18 downmix table, applied to
// chunks converted to f32 before multiply.
package channelmatrix

import (
	"math"

	"github.com/audiorender/audiorender/internal/renderpipe"
	"github.com/audiorender/audiorender/internal/rendererrors"
)

const sqrtHalf = math.Sqrt2 / 2 // 0.70710678..., spec's 0.7071 mix coefficient

// Matrix implements renderpipe.Stage, mixing from one channel layout to
// another. A nil gains table means pass-through (inCh==outCh &&
// inMask==outMask).
type Matrix struct {
	outFormat renderpipe.WaveFormat

	inChannels  int
	outChannels int
	gains       [][]float64 // gains[out][in], nil => pass-through
}

// New constructs a Matrix targeting outChannels/outMask; Initialize binds
// it to a concrete input format.
func New(outChannels int, outMask renderpipe.ChannelMask) *Matrix {
	return &Matrix{
		outFormat: renderpipe.WaveFormat{Channels: outChannels, ChannelMask: outMask},
	}
}

// Initialize precomputes the gain matrix for in -> (outChannels, outMask).
func (m *Matrix) Initialize(in renderpipe.WaveFormat) (renderpipe.WaveFormat, error) {
	if in.SampleFormat.IsBitstream() {
		return in, rendererrors.New(nil).
			Component("channelmatrix").
			Category(rendererrors.CategoryUnsupportedFormat).
			Context("error", "channel matrix cannot process bitstream format").
			Build()
	}

	out := in
	out.Channels = m.outFormat.Channels
	out.ChannelMask = m.outFormat.ChannelMask

	if in.Channels == out.Channels && in.ChannelMask == out.ChannelMask {
		m.gains = nil
		m.inChannels = in.Channels
		m.outChannels = out.Channels
		return out, nil
	}

	m.gains = buildDownmixMatrix(in.Channels, in.ChannelMask, out.Channels, out.ChannelMask)
	m.inChannels = in.Channels
	m.outChannels = out.Channels
	return out, nil
}

// Process converts the chunk to f32 and multiplies by the gain matrix.
func (m *Matrix) Process(in *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	if in.IsEmpty() {
		return in, nil
	}
	if m.gains == nil {
		return in, nil
	}

	if err := in.ToFormat(renderpipe.FormatF32); err != nil {
		return nil, err
	}
	samples := in.ToF32()
	frames := in.Frames()

	out := make([]float32, frames*m.outChannels)
	for f := 0; f < frames; f++ {
		inBase := f * m.inChannels
		outBase := f * m.outChannels
		for o := 0; o < m.outChannels; o++ {
			var acc float64
			row := m.gains[o]
			for i := 0; i < m.inChannels; i++ {
				if row[i] == 0 {
					continue
				}
				acc += row[i] * float64(samples[inBase+i])
			}
			out[outBase+o] = float32(acc)
		}
	}

	outFormat := in.Format()
	outFormat.Channels = m.outChannels
	return renderpipe.NewF32Chunk(outFormat, out), nil
}

// Finish: the matrix has no internal state to drain.
func (m *Matrix) Finish() (*renderpipe.Chunk, error) { return nil, nil }

// buildDownmixMatrix derives an outCh x inCh gain table from the full
// 18x18 downmix rules of §4.2, applied in order:
//  1. sides mix into backs
//  2. backs mix into back-center, else sides, else fronts at 0.7071
//  3. back-center splits 1.0 into both backs
//  4. front-center splits 0.7071 into L/R
//  5. missing L or R pulled from center at 0.7071
func buildDownmixMatrix(inCh int, inMask renderpipe.ChannelMask, outCh int, outMask renderpipe.ChannelMask) [][]float64 {
	inChans := channelOrder(inMask)
	outChans := channelOrder(outMask)

	gains := make([][]float64, outCh)
	for i := range gains {
		gains[i] = make([]float64, inCh)
	}

	inIndex := func(speaker renderpipe.ChannelMask) (int, bool) {
		for idx, s := range inChans {
			if s == speaker {
				return idx, true
			}
		}
		return 0, false
	}
	outIndex := func(speaker renderpipe.ChannelMask) (int, bool) {
		for idx, s := range outChans {
			if s == speaker {
				return idx, true
			}
		}
		return 0, false
	}

	add := func(outSpeaker, inSpeaker renderpipe.ChannelMask, gain float64) {
		oi, ok := outIndex(outSpeaker)
		if !ok {
			return
		}
		ii, ok := inIndex(inSpeaker)
		if !ok {
			return
		}
		gains[oi][ii] += gain
	}

	// Direct passthrough for any speaker present in both layouts.
	present := make(map[renderpipe.ChannelMask]bool, len(inChans))
	for _, s := range inChans {
		present[s] = true
	}
	for _, s := range outChans {
		if present[s] {
			add(s, s, 1.0)
		}
	}

	sideL, sideR := renderpipe.SpeakerSideLeft, renderpipe.SpeakerSideRight
	backL, backR := renderpipe.SpeakerBackLeft, renderpipe.SpeakerBackRight
	backC := renderpipe.SpeakerBackCenter
	frontL, frontR := renderpipe.SpeakerFrontLeft, renderpipe.SpeakerFrontRight
	frontC := renderpipe.SpeakerFrontCenter

	_, outHasSideL := outIndex(sideL)
	_, outHasSideR := outIndex(sideR)
	_, outHasBackL := outIndex(backL)
	_, outHasBackR := outIndex(backR)
	_, outHasBackC := outIndex(backC)
	_, outHasFrontC := outIndex(frontC)
	_, outHasFrontL := outIndex(frontL)
	_, outHasFrontR := outIndex(frontR)

	// Rule 1: sides mix into backs when backs exist in the output layout
	// but sides don't.
	if !outHasSideL && !outHasSideR {
		if outHasBackL {
			add(backL, sideL, 1.0)
		}
		if outHasBackR {
			add(backR, sideR, 1.0)
		}
	}

	// Rule 2: backs (including sides just folded into them conceptually)
	// mix into back-center, else sides, else fronts at 0.7071 -- applied
	// when the output layout drops backs/sides entirely.
	if !outHasBackL && !outHasBackR {
		switch {
		case outHasBackC:
			add(backC, backL, 1.0)
			add(backC, backR, 1.0)
			add(backC, sideL, 1.0)
			add(backC, sideR, 1.0)
		case outHasSideL || outHasSideR:
			add(sideL, backL, 1.0)
			add(sideR, backR, 1.0)
		default:
			add(frontL, backL, sqrtHalf)
			add(frontR, backR, sqrtHalf)
			add(frontL, sideL, sqrtHalf)
			add(frontR, sideR, sqrtHalf)
		}
	}

	// Rule 3: back-center splits 1.0 into both backs when the output has
	// backs but the input only has a back-center.
	if outHasBackL && outHasBackR {
		if _, ok := inIndex(backC); ok {
			add(backL, backC, 1.0)
			add(backR, backC, 1.0)
		}
	}

	// Rule 4: front-center splits 0.7071 into L/R when the output has no
	// center channel but the input does.
	if !outHasFrontC {
		if _, ok := inIndex(frontC); ok {
			if outHasFrontL {
				add(frontL, frontC, sqrtHalf)
			}
			if outHasFrontR {
				add(frontR, frontC, sqrtHalf)
			}
		}
	}

	// Rule 5: missing L or R pulled from center at 0.7071. An output that
	// carries L/R but lacks a center already gets the input's center
	// through rule 4. An output with a center but no L/R (e.g. mono)
	// takes the input's front L/R into that center at 0.7071 each.
	if outHasFrontC && !outHasFrontL && !outHasFrontR {
		add(frontC, frontL, sqrtHalf)
		add(frontC, frontR, sqrtHalf)
	}

	return gains
}

// channelOrder returns the speaker bits present in mask in canonical
// (increasing bit) order, matching the 0..17 ordering of §3.
func channelOrder(mask renderpipe.ChannelMask) []renderpipe.ChannelMask {
	var order []renderpipe.ChannelMask
	for b := renderpipe.ChannelMask(1); b != 0 && b <= 1<<17; b <<= 1 {
		if mask&b != 0 {
			order = append(order, b)
		}
	}
	return order
}
