// Package clock implements the Graph Clock of §4.13: a monotonic 100ns
// clock that can be slaved to a device clock while that device is
// playing, and remains continuous across slave/unslave transitions.
package clock

import (
	"sync"
	"time"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

// DeviceClock is the minimal device-clock view the Graph Clock reads
// while slaved (§4.13: "slaved to a device clock C").
type DeviceClock interface {
	ClockPosition() (int64, error)
	ClockFrequency() (int64, error)
}

// qpc is the monotonic reference this package uses in place of a native
// QueryPerformanceCounter: time.Now() measured against a fixed epoch,
// expressed in 100ns ticks. qpcFreq is therefore always
// renderpipe.TicksPerSecond.
func qpc() int64 {
	return int64(time.Since(qpcEpoch) / 100)
}

// qpcEpoch is the fixed epoch of qpc; time.Since reads its monotonic
// clock reading.
var qpcEpoch = time.Now()

// GraphClock implements §4.13. Zero value is ready to use, starting
// unslaved at counterOffset == 0.
type GraphClock struct {
	mu            sync.Mutex
	counterOffset int64

	slaved     bool
	device     DeviceClock
	audioStart int64
}

// New constructs an unslaved Graph Clock.
func New() *GraphClock { return &GraphClock{} }

// GetTime returns the current clock value in 100ns ticks.
func (g *GraphClock) GetTime() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getTimeLocked()
}

// getTimeLocked reads a fresh device position on every call (§4.13:
// C.time is the device clock's own capture timestamp for that specific
// reading, not a value fixed when slaving began). readQPC brackets the
// device read so the correction term reflects only the latency of this
// one call, never accumulated wall-clock time since Slave.
func (g *GraphClock) getTimeLocked() int64 {
	if !g.slaved {
		return g.counterOffset + qpc()
	}
	readQPC := qpc()
	pos, err := g.device.ClockPosition()
	freq, ferr := g.device.ClockFrequency()
	if err != nil || ferr != nil || freq == 0 {
		return g.counterOffset + qpc()
	}
	clockTime := pos*renderpipe.TicksPerSecond/freq + g.audioStart
	if pos > 0 {
		clockTime += qpc() - readQPC
	}
	return clockTime
}

// Slave binds the clock to a device clock, starting continuity from
// audioStart (§4.13). Idempotent: re-slaving to the same device resets
// the reference point.
func (g *GraphClock) Slave(device DeviceClock, audioStart int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slaved = true
	g.device = device
	g.audioStart = audioStart
}

// Unslave detaches from the device clock, preserving continuity by
// folding the last slaved reading into counterOffset (§4.13).
func (g *GraphClock) Unslave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.slaved {
		return
	}
	clockTime := g.getTimeLocked()
	g.counterOffset = clockTime - qpc()
	g.slaved = false
	g.device = nil
}

// IsSlaved reports whether the clock currently follows a device clock.
func (g *GraphClock) IsSlaved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slaved
}
