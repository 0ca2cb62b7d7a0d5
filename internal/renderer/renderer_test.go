package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/device"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// fakeClient is a minimal device.Client double: shared-mode f32 mix format,
// an always-draining buffer, and a clock that never advances.
type fakeClient struct {
	mixFormat renderpipe.WaveFormat
	written   int
}

func (c *fakeClient) GetMixFormat() (renderpipe.WaveFormat, error) { return c.mixFormat, nil }
func (c *fakeClient) IsFormatSupported(device.Mode, renderpipe.WaveFormat) bool { return true }
func (c *fakeClient) Initialize(device.Mode, device.Flags, uint32, renderpipe.WaveFormat) error {
	return nil
}
func (c *fakeClient) GetBufferSize() (int, error)         { return 4096, nil }
func (c *fakeClient) GetCurrentPadding() (int, error)     { return 0, nil }
func (c *fakeClient) GetBuffer(frames int) ([]byte, error) {
	return make([]byte, frames*c.mixFormat.FrameSize()), nil
}
func (c *fakeClient) ReleaseBuffer(frames int, flags device.ReleaseFlags) error {
	c.written += frames
	return nil
}
func (c *fakeClient) Start() error                          { return nil }
func (c *fakeClient) Stop() error                           { return nil }
func (c *fakeClient) Reset() error                          { return nil }
func (c *fakeClient) SetEventHandle(ch chan struct{}) bool  { return false }
func (c *fakeClient) GetStreamLatency() (int64, error)      { return 0, nil }
func (c *fakeClient) ClockPosition() (int64, error)         { return 0, nil }
func (c *fakeClient) ClockFrequency() (int64, error)        { return 1, nil }

type fakeFactory struct{ client *fakeClient }

func (f *fakeFactory) Enumerate() ([]device.EndpointInfo, error) {
	return []device.EndpointInfo{{ID: "default", Name: "Speakers"}}, nil
}
func (f *fakeFactory) DefaultEndpoint() (device.EndpointInfo, error) {
	return device.EndpointInfo{ID: "default", Name: "Speakers"}, nil
}
func (f *fakeFactory) Open(string) (device.Client, error) { return f.client, nil }

func newTestRenderer() *Renderer {
	factory := &fakeFactory{client: &fakeClient{
		mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32),
	}}
	return New(factory, Settings{Device: device.Settings{}})
}

func TestNew_StartsStopped(t *testing.T) {
	r := newTestRenderer()
	assert.Equal(t, StateStopped, r.State())
}

func TestSetFormat_InitializesDSPStackAndFeeder(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	assert.NotNil(t, r.record)
	assert.NotNil(t, r.feed)
	assert.Equal(t, 48000, r.deviceFormat.SampleRate)
}

func TestSetFormat_RejectedWhileRunning(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	require.NoError(t, r.Play(0))

	err := r.SetFormat(in, false)
	assert.Error(t, err)
}

func TestEnqueue_RejectedOutsideRunningState(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))

	_, err := r.Enqueue(Sample{TimeValid: true, StopValid: true, Payload: make([]byte, 16)})
	assert.Error(t, err)
}

func TestEnqueue_PushesChunkThroughPipelineWhileRunning(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	r.NewSegment(1.0)
	require.NoError(t, r.Play(0))

	ok, err := r.Enqueue(Sample{
		TimeValid: true, StopValid: true,
		Start: 0, Stop: renderpipe.FramesToTicks(4, 44100),
		Payload: make([]byte, 4*4), // 4 frames stereo s16
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnqueue_SkippedWhileFlushing(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	r.NewSegment(1.0)
	require.NoError(t, r.Play(0))
	r.BeginFlush()

	ok, err := r.Enqueue(Sample{TimeValid: true, StopValid: true, Payload: make([]byte, 16)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEndFlush_ErrorsWithoutPriorBeginFlush(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	err := r.EndFlush()
	assert.Error(t, err)
}

func TestPlay_RequiresFormatSetFirst(t *testing.T) {
	r := newTestRenderer()
	err := r.Play(0)
	assert.Error(t, err)
}

func TestPlayPauseStop_TransitionsState(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))

	require.NoError(t, r.Play(0))
	assert.Equal(t, StateRunning, r.State())

	require.NoError(t, r.Pause())
	assert.Equal(t, StatePaused, r.State())

	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
}

func TestFinish_NonBlockingReturnsImmediately(t *testing.T) {
	r := newTestRenderer()
	in := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	require.NoError(t, r.SetFormat(in, false))
	r.NewSegment(1.0)
	require.NoError(t, r.Play(0))

	ok, err := r.Finish(false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Finish starts the feeder's silence-feed goroutine to top up the
	// device until end-of-stream is observed; flushing is what tears it
	// back down.
	r.BeginFlush()
	require.NoError(t, r.EndFlush())
}
