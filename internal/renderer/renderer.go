// Package renderer implements §4.14's orchestrator: a state machine that
// owns the DSP stack, the Device Backend record, and a Feeder, and drives
// samples from a sample source through to the device.
package renderer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/audiorender/audiorender/internal/channelmatrix"
	"github.com/audiorender/audiorender/internal/clock"
	"github.com/audiorender/audiorender/internal/crossfeed"
	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/dither"
	"github.com/audiorender/audiorender/internal/feeder"
	"github.com/audiorender/audiorender/internal/gain"
	"github.com/audiorender/audiorender/internal/limiter"
	"github.com/audiorender/audiorender/internal/logging"
	"github.com/audiorender/audiorender/internal/rendererrors"
	"github.com/audiorender/audiorender/internal/renderpipe"
	"github.com/audiorender/audiorender/internal/resample"
	"github.com/audiorender/audiorender/internal/tempo"
	"github.com/audiorender/audiorender/internal/timing"
)

// State is the Renderer's run state (§4.14).
type State int

const (
	StateStopped State = iota
	StatePaused
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Settings is the subset of §6's settings interface the Renderer needs
// directly (the rest is threaded through DSP-stage constructors).
type Settings struct {
	Device            device.Settings
	Crossfeed         crossfeed.Config
	PeakLimiterShared bool
	Serial            uint32
}

// Factory opens device backends (injected so tests can substitute a fake).
type Factory = device.Factory

// Renderer implements §4.14's state machine and lock ordering
// (renderer -> feeder -> graph clock, §5).
type Renderer struct {
	mu    sync.Mutex
	state State

	factory  Factory
	settings Settings

	inputFormat  renderpipe.WaveFormat
	deviceFormat renderpipe.WaveFormat

	timing   *timing.Correction
	matrix   *channelmatrix.Matrix
	rate     *resample.Stage
	tempo    *tempo.Stage
	crossfd  *crossfeed.Stage
	volume   *gain.Stage
	limiterS *limiter.Stage
	ditherS  *dither.Stage

	record *device.Record
	feed   feeder.Feeder
	gclock *clock.GraphClock

	pushedFrames int64
	flushing     bool
	flushCh      chan struct{}

	log *slog.Logger
}

// New constructs a Renderer in the Stopped state.
func New(factory Factory, settings Settings) *Renderer {
	return &Renderer{
		factory:  factory,
		settings: settings,
		timing:   timing.New(),
		gclock:   clock.New(),
		log:      logging.ForComponent("renderer"),
	}
}

// State returns the current state under the renderer lock.
func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetFormat creates a backend for fmt and initializes all DSP stages
// (§4.14). Only valid outside Running.
func (r *Renderer) SetFormat(fmt renderpipe.WaveFormat, realtime bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return rendererrors.New(nil).
			Component("renderer").
			Category(rendererrors.CategoryStateViolation).
			Context("operation", "set_format").
			Context("state", r.state.String()).
			Build()
	}

	if r.record != nil {
		_ = r.record.Close()
		r.record = nil
	}

	record, err := device.Create(r.factory, r.settings.Device, fmt, realtime)
	if err != nil {
		return err
	}
	r.record = record
	r.inputFormat = fmt
	r.deviceFormat = record.NegotiatedFormat
	r.log.Info("format negotiated", "session_id", record.SessionID, "endpoint", record.EndpointName)

	r.timing.Bind(fmt)
	r.timing.NewSegment(1.0)

	stageFormat := fmt
	r.matrix = channelmatrix.New(record.NegotiatedFormat.Channels, record.NegotiatedFormat.ChannelMask)
	stageFormat, err = r.matrix.Initialize(stageFormat)
	if err != nil {
		return err
	}

	r.rate = resample.New(record.NegotiatedFormat.SampleRate)
	stageFormat, err = r.rate.Initialize(stageFormat)
	if err != nil {
		return err
	}

	r.tempo = tempo.New(1.0)
	stageFormat, err = r.tempo.Initialize(stageFormat)
	if err != nil {
		return err
	}

	r.crossfd = crossfeed.New(r.settings.Crossfeed)
	stageFormat, err = r.crossfd.Initialize(stageFormat)
	if err != nil {
		return err
	}

	r.volume = gain.New()
	stageFormat, err = r.volume.Initialize(stageFormat)
	if err != nil {
		return err
	}

	exclusive := record.Flags.Exclusive
	r.limiterS = limiter.New(limiter.Limit(exclusive && !r.settings.PeakLimiterShared))
	stageFormat, err = r.limiterS.Initialize(stageFormat)
	if err != nil {
		return err
	}

	r.ditherS = dither.New(record.NegotiatedFormat.SampleFormat)
	_, err = r.ditherS.Initialize(stageFormat)
	if err != nil {
		return err
	}

	if record.Flags.EventDriven {
		r.feed = feeder.NewEventFeeder(record)
	} else {
		r.feed = feeder.NewPushFeeder(record)
	}
	r.pushedFrames = 0
	return nil
}

// NewSegment resets timing correction with the new rate and
// re-initializes rate and tempo processors (§4.14).
func (r *Renderer) NewSegment(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timing.NewSegment(rate)
	if rate != 1.0 {
		r.rate.EnterVariable()
	} else {
		r.rate.EnterConstant()
	}
	r.tempo.SetRate(rate)
}

// Sample is the inbound unit of work, mirroring §6's sample properties.
type Sample struct {
	TimeValid     bool
	StopValid     bool
	Start         int64
	Stop          int64
	Discontinuity bool
	FormatChanged bool
	SplicePoint   bool
	Payload       []byte
	NewFormat     *renderpipe.WaveFormat
}

// Enqueue runs timing correction, the DSP pipeline, and a format
// conversion under the renderer lock, then pushes the result to the
// feeder outside the lock (§4.14, §5). Returns false if a pending flush
// interrupted the call.
func (r *Renderer) Enqueue(sample Sample) (bool, error) {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return false, rendererrors.New(nil).
			Component("renderer").
			Category(rendererrors.CategoryStateViolation).
			Context("operation", "enqueue").
			Context("state", r.state.String()).
			Build()
	}
	if r.flushing {
		r.mu.Unlock()
		return false, nil
	}

	result := r.timing.Process(timing.SampleProperties{
		TimeValid:     sample.TimeValid,
		StopValid:     sample.StopValid,
		Start:         sample.Start,
		Stop:          sample.Stop,
		Discontinuity: sample.Discontinuity,
		FormatChanged: sample.FormatChanged,
		SplicePoint:   sample.SplicePoint,
		Payload:       sample.Payload,
		NewFormat:     sample.NewFormat,
	})
	if result.Policy == timing.PolicyDrop {
		r.mu.Unlock()
		return true, nil
	}

	chunk, err := r.runPipeline(result.Chunk)
	r.mu.Unlock()
	if err != nil {
		return false, err
	}
	if chunk == nil || chunk.IsEmpty() {
		return true, nil
	}

	interrupted := false
	_, err = r.feed.Push(chunk, func() {})
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	if r.flushing {
		interrupted = true
	}
	r.mu.Unlock()
	return !interrupted, nil
}

// runPipeline runs chunk through the DSP stack in data-flow order
// (§3.5) and converts to the device's negotiated format. Called with the
// renderer lock held.
func (r *Renderer) runPipeline(chunk *renderpipe.Chunk) (*renderpipe.Chunk, error) {
	var err error
	for _, stage := range r.stages() {
		chunk, err = stage.Process(chunk)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			return nil, nil
		}
	}
	if err := chunk.ToFormat(r.deviceFormat.SampleFormat); err != nil {
		return nil, err
	}
	return chunk, nil
}

func (r *Renderer) stages() []renderpipe.Stage {
	return []renderpipe.Stage{r.matrix, r.rate, r.tempo, r.crossfd, r.volume, r.limiterS, r.ditherS}
}

// Finish runs each DSP stage's Finish, converts, and pushes the tail
// (§4.14). If blockUntilEnd, it polls device position against
// pushedFrames in >=1ms increments until reached or interrupted by
// flush.
func (r *Renderer) Finish(blockUntilEnd bool) (bool, error) {
	r.mu.Lock()
	for _, stage := range r.stages() {
		tail, err := stage.Finish()
		if err != nil {
			r.mu.Unlock()
			return false, err
		}
		if tail != nil && !tail.IsEmpty() {
			if err := tail.ToFormat(r.deviceFormat.SampleFormat); err != nil {
				r.mu.Unlock()
				return false, err
			}
			if _, err := r.feed.Push(tail, func() {}); err != nil {
				r.mu.Unlock()
				return false, err
			}
		}
	}
	if err := r.feed.Finish(func() {}); err != nil {
		r.mu.Unlock()
		return false, err
	}
	target := r.feed.End()
	r.mu.Unlock()

	if !blockUntilEnd {
		return true, nil
	}
	for {
		r.mu.Lock()
		flushing := r.flushing
		pos := r.feed.Position()
		r.mu.Unlock()
		if flushing {
			return false, nil
		}
		if pos >= target {
			return true, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// BeginFlush sets the flush event (§4.14, §5: the sole cancellation
// signal).
func (r *Renderer) BeginFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = true
}

// EndFlush clears the flush event, resetting the device and buffered
// state (§4.14).
func (r *Renderer) EndFlush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.flushing {
		return rendererrors.New(nil).
			Component("renderer").
			Category(rendererrors.CategoryStateViolation).
			Context("operation", "end_flush").
			Context("error", "endFlush without prior beginFlush").
			Build()
	}
	if r.feed != nil {
		if err := r.feed.Reset(); err != nil {
			return err
		}
	}
	r.flushing = false
	return nil
}

// Play slaves the graph clock to the device clock at startTime and
// starts the device (§4.14).
func (r *Renderer) Play(startTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return rendererrors.New(nil).
			Component("renderer").
			Category(rendererrors.CategoryStateViolation).
			Context("operation", "play").
			Context("error", "no format set").
			Build()
	}
	r.gclock.Slave(r.record.Client, startTime)
	if err := r.feed.Start(); err != nil {
		return rendererrors.New(err).
			Component("renderer").
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "play").
			Build()
	}
	r.state = StateRunning
	return nil
}

// Pause unslaves the graph clock and stops the device (§4.14).
func (r *Renderer) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gclock.Unslave()
	if err := r.feed.Stop(); err != nil {
		return err
	}
	r.state = StatePaused
	return nil
}

// Stop unslaves the graph clock, stops the device, and lazily releases
// the backend (§4.14).
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = true
	r.gclock.Unslave()
	if r.feed != nil {
		_ = r.feed.Stop()
	}
	r.state = StateStopped
	if r.record != nil {
		err := r.record.Close()
		r.record = nil
		r.flushing = false
		return err
	}
	r.flushing = false
	return nil
}

// GraphClock exposes the Renderer's Graph Clock for external readers
// (§5).
func (r *Renderer) GraphClock() *clock.GraphClock { return r.gclock }
