// Package feeder implements the two Device Feeder variants of §4.11/§4.12:
// a worker that owns the Device Backend record exclusively and drains
// chunks into it. Construction picks the variant (§9: "tagged variant with
// a single-method capability set"); callers use the Feeder interface.
package feeder

import (
	"log/slog"
	"sync/atomic"

	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/logging"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Feeder is the capability set both variants implement (§9).
type Feeder interface {
	Push(chunk *renderpipe.Chunk, onFilled func()) (bool, error)
	Finish(onFilled func()) error
	Position() int64
	End() int64
	Silence() int64
	Start() error
	Stop() error
	Reset() error
	// Failed reports the sticky error flag set by an EndpointFailure or
	// OutOfMemory observed inside the feeder worker (§7).
	Failed() bool
}

// base holds the state shared by both variants: the exclusively-owned
// backend record and the counters of §4.11.
type base struct {
	record *device.Record

	pushedFrames  atomic.Int64
	silenceFrames atomic.Int64
	eos           atomic.Bool
	failed        atomic.Bool

	log *slog.Logger
}

func newBase(record *device.Record) *base {
	return &base{record: record, log: logging.ForComponent("feeder")}
}

func (b *base) Position() int64 {
	pos, err := b.record.Client.ClockPosition()
	if err != nil {
		return b.pushedFrames.Load()
	}
	freq, err := b.record.Client.ClockFrequency()
	if err != nil || freq == 0 {
		return b.pushedFrames.Load()
	}
	return pos * renderpipe.TicksPerSecond / freq
}

func (b *base) End() int64 {
	rate := int64(b.record.NegotiatedFormat.SampleRate)
	if rate == 0 {
		return 0
	}
	return b.pushedFrames.Load() * renderpipe.TicksPerSecond / rate
}

func (b *base) Silence() int64 {
	rate := int64(b.record.NegotiatedFormat.SampleRate)
	if rate == 0 {
		return 0
	}
	return b.silenceFrames.Load() * renderpipe.TicksPerSecond / rate
}

func (b *base) Failed() bool { return b.failed.Load() }

func (b *base) Start() error {
	if err := b.record.Client.Start(); err != nil {
		b.failed.Store(true)
		return err
	}
	return nil
}

func (b *base) Stop() error {
	return b.record.Client.Stop()
}
