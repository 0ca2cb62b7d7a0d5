package feeder

import (
	"time"

	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/renderpipe"
	"github.com/smallnest/ringbuffer"
)

// PushFeeder implements §4.11: used when the platform grants no
// buffer-completion event, or the caller requests poll mode.
type PushFeeder struct {
	*base

	realtime bool
	rtQueue  *ringbuffer.RingBuffer // bounded <=250ms, realtime mode only

	stopSilence chan struct{}
	stopRT      chan struct{}
}

// NewPushFeeder constructs a push feeder owning record exclusively.
func NewPushFeeder(record *device.Record) *PushFeeder {
	f := &PushFeeder{base: newBase(record)}
	if record.Flags.Realtime {
		frameSize := record.NegotiatedFormat.FrameSize()
		queueMs := 250
		frames := record.NegotiatedFormat.SampleRate * queueMs / 1000
		f.realtime = true
		f.rtQueue = ringbuffer.New(frames * frameSize)
	}
	return f
}

// Push writes min(space, chunk.frames) frames to the device, truncating
// the chunk's head by the written count, and invokes onFilled if the
// device buffer is now full (§4.11).
func (f *PushFeeder) Push(chunk *renderpipe.Chunk, onFilled func()) (bool, error) {
	if f.failed.Load() {
		return false, nil
	}
	if f.realtime {
		return f.pushRealtime(chunk)
	}
	return f.pushDirect(chunk, onFilled)
}

func (f *PushFeeder) pushDirect(chunk *renderpipe.Chunk, onFilled func()) (bool, error) {
	total, err := f.record.Client.GetBufferSize()
	if err != nil {
		f.failed.Store(true)
		return false, err
	}
	padding, err := f.record.Client.GetCurrentPadding()
	if err != nil {
		f.failed.Store(true)
		return false, err
	}
	space := total - padding
	if space <= 0 {
		return true, nil
	}
	frames := chunk.Frames()
	if frames == 0 {
		return false, nil
	}
	n := frames
	if n > space {
		n = space
	}

	buf, err := f.record.Client.GetBuffer(n)
	if err != nil {
		f.failed.Store(true)
		return false, err
	}
	copy(buf, chunk.Data()[:n*chunk.Format().FrameSize()])
	if err := f.record.Client.ReleaseBuffer(n, device.ReleaseFlags{}); err != nil {
		f.failed.Store(true)
		return false, err
	}

	_ = chunk.ShrinkHeadFrames(n)
	f.pushedFrames.Add(int64(n))

	filled := n == space
	if filled && onFilled != nil {
		onFilled()
	}
	return filled, nil
}

// pushRealtime drops the chunk onto the bounded realtime queue rather
// than writing to the device directly; the realtime feed thread drains
// it (§4.11 bullet 3).
func (f *PushFeeder) pushRealtime(chunk *renderpipe.Chunk) (bool, error) {
	data := chunk.Data()
	n, err := f.rtQueue.TryWrite(data)
	if err != nil && err != ringbuffer.ErrIsFull {
		f.failed.Store(true)
		return false, err
	}
	framesWritten := n / chunk.Format().FrameSize()
	_ = chunk.ShrinkHeadFrames(framesWritten)
	f.pushedFrames.Add(int64(framesWritten))
	return n < len(data), nil
}

// Finish marks end-of-stream and starts the silence-feed thread that
// tops up the device buffer until the caller observes End() reached
// (§4.11).
func (f *PushFeeder) Finish(onFilled func()) error {
	f.eos.Store(true)
	f.stopSilence = make(chan struct{})
	periodMs := f.record.BufferDurationMs / 4
	if periodMs == 0 {
		periodMs = 1
	}
	go f.silenceFeedLoop(time.Duration(periodMs)*time.Millisecond, onFilled)
	if f.realtime {
		f.stopRT = make(chan struct{})
		go f.realtimeFeedLoop()
	}
	return nil
}

// silenceFeedLoop wakes every period and tops up silence to keep the
// device from underrunning while the caller waits for EOS (§4.11).
func (f *PushFeeder) silenceFeedLoop(period time.Duration, onFilled func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopSilence:
			return
		case <-ticker.C:
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
				continue
			}
			if err := f.record.Client.ReleaseBuffer(space, device.ReleaseFlags{Silent: true}); err != nil {
				f.failed.Store(true)
				return
			}
			f.silenceFrames.Add(int64(space))
			if onFilled != nil {
				onFilled()
			}
		}
	}
}

// realtimeFeedLoop drains the bounded realtime queue into the device at a
// tight cadence, injecting silence when the device nears underrun
// (§4.11: "within streamLatency+2ms of empty").
func (f *PushFeeder) realtimeFeedLoop() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	frameSize := f.record.NegotiatedFormat.FrameSize()
	marginTicks := f.record.StreamLatencyTicks + 2*renderpipe.TicksPerSecond/1000
	marginFrames := int(renderpipe.TicksToFrames(marginTicks, f.record.NegotiatedFormat.SampleRate))

	for {
		select {
		case <-f.stopRT:
			return
		case <-ticker.C:
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
				continue
			}
			if padding <= marginFrames {
				avail := f.rtQueue.Length() / frameSize
				if avail == 0 {
					if err := f.record.Client.ReleaseBuffer(space, device.ReleaseFlags{Silent: true}); err == nil {
						f.silenceFrames.Add(int64(space))
					}
					continue
				}
			}
			buf, err := f.record.Client.GetBuffer(space)
			if err != nil {
				f.failed.Store(true)
				return
			}
			n, _ := f.rtQueue.Read(buf)
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			_ = f.record.Client.ReleaseBuffer(space, device.ReleaseFlags{})
			f.pushedFrames.Add(int64(space))
		}
	}
}

// Reset stops the feed threads, resets the client, and zeroes counters
// (§4.11).
func (f *PushFeeder) Reset() error {
	if f.stopSilence != nil {
		close(f.stopSilence)
		f.stopSilence = nil
	}
	if f.stopRT != nil {
		close(f.stopRT)
		f.stopRT = nil
	}
	f.pushedFrames.Store(0)
	f.silenceFrames.Store(0)
	f.eos.Store(false)
	return f.record.Client.Reset()
}
