package feeder

import (
	"github.com/smallnest/ringbuffer"

	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// EventFeeder implements §4.12: used when the device signals
// buffer-ready via an event. A dedicated worker wakes on that event and
// copies as much of the internal chunk queue into the device as it
// reports free.
type EventFeeder struct {
	*base

	queue      *ringbuffer.RingBuffer // bounded to bufferDuration*sampleRate/1000 frames
	queueCap   int                    // in frames
	wakeCh     chan struct{}
	stopCh     chan struct{}
	started    bool
	wroteOnce  bool // this wake has produced real audio (delegated start, §4.12)
	onFilledCb func()
}

// NewEventFeeder constructs an event feeder owning record exclusively,
// arming its wake channel on the backend client.
func NewEventFeeder(record *device.Record) *EventFeeder {
	frameSize := record.NegotiatedFormat.FrameSize()
	queueCap := int(record.BufferDurationMs) * record.NegotiatedFormat.SampleRate / 1000

	f := &EventFeeder{
		base:     newBase(record),
		queue:    ringbuffer.New(queueCap * frameSize),
		queueCap: queueCap,
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	record.Client.SetEventHandle(f.wakeCh)
	go f.workerLoop()
	return f
}

// Push enqueues chunk's bytes into the internal queue. §4.12's
// invariant: pushing over the queue cap is dropped to preserve latency.
func (f *EventFeeder) Push(chunk *renderpipe.Chunk, onFilled func()) (bool, error) {
	if f.failed.Load() {
		return false, nil
	}
	f.onFilledCb = onFilled
	frameSize := chunk.Format().FrameSize()
	capBytes := f.queueCap * frameSize
	used := f.queue.Length()
	data := chunk.Data()

	space := capBytes - used
	if space <= 0 {
		return true, nil
	}
	n := len(data)
	if n > space {
		n = space
	}
	written, err := f.queue.Write(data[:n])
	if err != nil {
		f.failed.Store(true)
		return false, err
	}
	framesWritten := written / frameSize
	_ = chunk.ShrinkHeadFrames(framesWritten)
	f.pushedFrames.Add(int64(framesWritten))
	return written == space, nil
}

// Finish marks end-of-stream; the worker loop observes it and stops
// injecting silence once the queue drains.
func (f *EventFeeder) Finish(onFilled func()) error {
	f.eos.Store(true)
	f.onFilledCb = onFilled
	return nil
}

// workerLoop is the time-critical worker of §4.12: on each wake it
// copies as much of the queue into the device as free space allows, and
// fills any shortfall with silence unless end-of-stream is set or the
// feeder is realtime.
func (f *EventFeeder) workerLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		case <-f.wakeCh:
			f.serviceWake()
		}
	}
}

func (f *EventFeeder) serviceWake() {
	total, err := f.record.Client.GetBufferSize()
	if err != nil {
		f.failed.Store(true)
		return
	}
	padding, err := f.record.Client.GetCurrentPadding()
	if err != nil {
		f.failed.Store(true)
		return
	}
	space := total - padding
	if space <= 0 {
		return
	}
	frameSize := f.record.NegotiatedFormat.FrameSize()

	buf, err := f.record.Client.GetBuffer(space)
	if err != nil {
		f.failed.Store(true)
		return
	}
	queued := f.queue.Length() / frameSize
	wroteReal := false
	if queued > 0 {
		take := queued
		if take > space {
			take = space
		}
		n, _ := f.queue.Read(buf[:take*frameSize])
		wroteReal = n > 0
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}

	realFrames := queued
	if realFrames > space {
		realFrames = space
	}
	release := space
	if realFrames < space && (f.eos.Load() || f.record.Flags.Realtime) {
		release = realFrames
	}

	// releaseBuffer with the SILENT flag only when no real data was
	// written this wake; otherwise the remainder is already zero-filled
	// above (§4.12).
	if err := f.record.Client.ReleaseBuffer(release, device.ReleaseFlags{Silent: !wroteReal && queued == 0}); err != nil {
		f.failed.Store(true)
		return
	}
	if release > realFrames {
		f.silenceFrames.Add(int64(release - realFrames))
	}

	if !f.started && wroteReal {
		f.started = true
		if err := f.record.Client.Start(); err == nil && f.onFilledCb != nil {
			f.onFilledCb()
		}
	}
}

// Reset stops and respawns the worker, resets the client, and zeroes
// counters. Flush is an ordinary, repeatable per-segment operation
// (§5), so the feeder must survive it rather than tearing down for
// good: the old workerLoop is stopped and a fresh one started against
// a new stopCh. (PushFeeder.Reset only stops its feed threads; its
// Finish starts new ones.)
func (f *EventFeeder) Reset() error {
	if f.stopCh != nil {
		close(f.stopCh)
	}
	frameSize := f.record.NegotiatedFormat.FrameSize()
	f.queue = ringbuffer.New(f.queueCap * frameSize)
	f.stopCh = make(chan struct{})
	go f.workerLoop()

	f.pushedFrames.Store(0)
	f.silenceFrames.Store(0)
	f.eos.Store(false)
	f.started = false
	return f.record.Client.Reset()
}

// Start is a no-op for the event feeder: per §4.12, start is delegated to
// the first wake that produces real audio.
func (f *EventFeeder) Start() error { return nil }
