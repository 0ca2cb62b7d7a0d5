// Package malgo adapts the teacher's capture-oriented malgo device wrapper
// into a playback device.Client, per §4.10/§6's endpoint-layer contract.
package malgo

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/rendererrors"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

const component = "device.malgo"

// getBackendForPlatform picks the native backend for this OS.
func getBackendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, rendererrors.New(nil).
			Component(component).
			Category(rendererrors.CategoryUnsupportedFormat).
			Context("os", runtime.GOOS).
			Context("error", "unsupported operating system").
			Build()
	}
}

// EndpointInfo mirrors device.EndpointInfo with the raw malgo device ID
// retained for Open.
type EndpointInfo struct {
	device.EndpointInfo
	rawID malgo.DeviceID
}

// Factory implements device.Factory for malgo-backed render endpoints.
type Factory struct {
	ctx *malgo.AllocatedContext
	mu  sync.Mutex
}

// NewFactory initializes a malgo context for the platform's playback
// backend.
func NewFactory() (*Factory, error) {
	backend, err := getBackendForPlatform()
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "init_context").
			Build()
	}
	return &Factory{ctx: ctx}, nil
}

// Close releases the underlying malgo context.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx == nil {
		return nil
	}
	err := f.ctx.Uninit()
	f.ctx = nil
	return err
}

// Enumerate lists playback endpoints, skipping the null/discard device
// (grounded on the teacher's EnumerateDevices, adapted from Capture to
// Playback).
func (f *Factory) Enumerate() ([]device.EndpointInfo, error) {
	infos, err := f.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "enumerate_devices").
			Build()
	}
	out := make([]device.EndpointInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		state := device.StateActive
		out = append(out, device.EndpointInfo{
			ID:    infos[i].ID.String(),
			Name:  infos[i].Name(),
			Role:  device.RoleRender,
			State: state,
		})
	}
	return out, nil
}

// DefaultEndpoint returns the system's default playback endpoint, falling
// back to the first enumerated one.
func (f *Factory) DefaultEndpoint() (device.EndpointInfo, error) {
	infos, err := f.ctx.Devices(malgo.Playback)
	if err != nil {
		return device.EndpointInfo{}, rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range infos {
		if infos[i].IsDefault != 0 {
			return device.EndpointInfo{ID: infos[i].ID.String(), Name: infos[i].Name(), Role: device.RoleRender}, nil
		}
	}
	if len(infos) > 0 {
		return device.EndpointInfo{ID: infos[0].ID.String(), Name: infos[0].Name(), Role: device.RoleRender}, nil
	}
	return device.EndpointInfo{}, rendererrors.New(nil).
		Component(component).
		Category(rendererrors.CategoryEndpointFailure).
		Context("error", "no playback endpoints available").
		Build()
}

// Open binds a not-yet-initialized Client to one endpoint ID.
func (f *Factory) Open(endpointID string) (device.Client, error) {
	infos, err := f.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range infos {
		if infos[i].ID.String() == endpointID {
			return &Client{ctx: f.ctx, info: infos[i]}, nil
		}
	}
	return nil, rendererrors.New(nil).
		Component(component).
		Category(rendererrors.CategoryUnsupportedFormat).
		Context("endpoint_id", endpointID).
		Context("error", "endpoint not found").
		Build()
}

// Client implements device.Client over one malgo playback device. The
// device callback drains a ring buffer fed by GetBuffer/ReleaseBuffer,
// standing in for WASAPI's pull-style IAudioRenderClient.
type Client struct {
	ctx  *malgo.AllocatedContext
	info malgo.DeviceInfo

	dev    *malgo.Device
	format renderpipe.WaveFormat
	ring   *ringbuffer.RingBuffer

	playedFrames atomic.Int64
	eventCh      chan struct{}
	pendingBuf   []byte
}

// GetMixFormat reports f32/48kHz stereo, the simplest format malgo always
// supports; it does not query the device for its native format.
func (c *Client) GetMixFormat() (renderpipe.WaveFormat, error) {
	return renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32), nil
}

// IsFormatSupported reports whether fmt is a PCM or float format malgo can
// render; bitstream formats are never supported through this backend.
func (c *Client) IsFormatSupported(mode device.Mode, format renderpipe.WaveFormat) bool {
	if format.SampleFormat.IsBitstream() {
		return false
	}
	return format.Validate() == nil
}

// Initialize opens the underlying malgo playback device at the negotiated
// format and wires the data callback to drain the ring buffer.
func (c *Client) Initialize(mode device.Mode, flags device.Flags, bufferDurationMs uint32, format renderpipe.WaveFormat) error {
	c.format = format

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.Playback.DeviceID = c.info.ID.Pointer()
	deviceConfig.Playback.Format = sampleFormatToMalgo(format.SampleFormat)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = bufferDurationMs / 4
	if deviceConfig.PeriodSizeInMilliseconds == 0 {
		deviceConfig.PeriodSizeInMilliseconds = 1
	}

	ringFrames := int(bufferDurationMs) * format.SampleRate / 1000
	if ringFrames < format.SampleRate/100 {
		ringFrames = format.SampleRate / 100
	}
	c.ring = ringbuffer.New(ringFrames * format.FrameSize())

	callbacks := malgo.DeviceCallbacks{Data: c.onPullAudio}
	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "init_device").
			Build()
	}
	c.dev = dev
	return nil
}

// onPullAudio is malgo's playback callback: it drains as many queued bytes
// as available from the ring buffer, zero-filling any shortfall so an
// underrun emits silence rather than garbage.
func (c *Client) onPullAudio(pOutputSample, _ []byte, framecount uint32) {
	n, _ := c.ring.Read(pOutputSample)
	for i := n; i < len(pOutputSample); i++ {
		pOutputSample[i] = 0
	}
	c.playedFrames.Add(int64(framecount))
	if ch := c.eventCh; ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// GetBufferSize returns the ring buffer's capacity in frames.
func (c *Client) GetBufferSize() (int, error) {
	if c.ring == nil {
		return 0, nil
	}
	return c.ring.Capacity() / c.format.FrameSize(), nil
}

// GetCurrentPadding returns the number of frames currently queued ahead of
// the device (§6: "getCurrentPadding").
func (c *Client) GetCurrentPadding() (int, error) {
	if c.ring == nil {
		return 0, nil
	}
	return c.ring.Length() / c.format.FrameSize(), nil
}

// GetBuffer allocates a zeroed staging buffer for up to frames frames,
// remembers it, and returns it for the caller to fill in place; the same
// buffer is what ReleaseBuffer commits to the device queue.
func (c *Client) GetBuffer(frames int) ([]byte, error) {
	c.pendingBuf = make([]byte, frames*c.format.FrameSize())
	return c.pendingBuf, nil
}

// ReleaseBuffer commits frames frames of the buffer handed out by the
// preceding GetBuffer call to the playback queue, substituting silence if
// flags.Silent is set.
func (c *Client) ReleaseBuffer(frames int, flags device.ReleaseFlags) error {
	if frames == 0 {
		c.pendingBuf = nil
		return nil
	}
	size := frames * c.format.FrameSize()
	var buf []byte
	if flags.Silent || c.pendingBuf == nil {
		buf = make([]byte, size)
	} else {
		buf = c.pendingBuf
		if len(buf) > size {
			buf = buf[:size]
		}
	}
	c.pendingBuf = nil
	_, err := c.ring.Write(buf)
	return err
}

// WriteBuffer is the non-opaque counterpart to ReleaseBuffer (in place of
// WASAPI's write-into-mapped-pointer step): it commits data directly to
// the playback queue. The feeders do not call it; they go through
// GetBuffer/ReleaseBuffer.
func (c *Client) WriteBuffer(data []byte) (int, error) {
	if c.ring == nil {
		return 0, rendererrors.New(nil).
			Component(component).
			Category(rendererrors.CategoryStateViolation).
			Context("error", "WriteBuffer before Initialize").
			Build()
	}
	return c.ring.Write(data)
}

func (c *Client) Start() error {
	if c.dev == nil {
		return rendererrors.New(nil).
			Component(component).
			Category(rendererrors.CategoryStateViolation).
			Context("error", "Start before Initialize").
			Build()
	}
	if err := c.dev.Start(); err != nil {
		return rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "start").
			Build()
	}
	return nil
}

func (c *Client) Stop() error {
	if c.dev == nil {
		return nil
	}
	if err := c.dev.Stop(); err != nil {
		return rendererrors.New(err).
			Component(component).
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "stop").
			Build()
	}
	return nil
}

func (c *Client) Reset() error {
	if c.dev != nil {
		_ = c.dev.Stop()
		c.dev.Uninit()
		c.dev = nil
	}
	c.ring = nil
	c.playedFrames.Store(0)
	return nil
}

// SetEventHandle arms ch to receive one signal per completed playback
// callback, standing in for WASAPI's buffer-ready event.
func (c *Client) SetEventHandle(ch chan struct{}) bool {
	c.eventCh = ch
	return true
}

// GetStreamLatency estimates stream latency as the ring buffer's full
// capacity, expressed in 100ns ticks.
func (c *Client) GetStreamLatency() (int64, error) {
	frames, err := c.GetBufferSize()
	if err != nil {
		return 0, err
	}
	return renderpipe.FramesToTicks(frames, c.format.SampleRate), nil
}

// ClockPosition reports the cumulative frame count consumed by the
// playback callback, standing in for the platform audio clock's position.
func (c *Client) ClockPosition() (int64, error) {
	return c.playedFrames.Load(), nil
}

// ClockFrequency reports the negotiated sample rate as the device clock's
// frequency.
func (c *Client) ClockFrequency() (int64, error) {
	return int64(c.format.SampleRate), nil
}

func sampleFormatToMalgo(f renderpipe.SampleFormat) malgo.FormatType {
	switch f {
	case renderpipe.FormatS8:
		return malgo.FormatU8
	case renderpipe.FormatS16:
		return malgo.FormatS16
	case renderpipe.FormatS24:
		return malgo.FormatS24
	case renderpipe.FormatS32:
		return malgo.FormatS32
	case renderpipe.FormatF32:
		return malgo.FormatF32
	default:
		return malgo.FormatF32
	}
}
