package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

type fakeClient struct {
	mixFormat      renderpipe.WaveFormat
	mixErr         error
	supported      map[renderpipe.SampleFormat]bool
	initErr        error
	latency        int64
	initializedFmt renderpipe.WaveFormat
	initialized    bool
}

func (c *fakeClient) GetMixFormat() (renderpipe.WaveFormat, error) { return c.mixFormat, c.mixErr }
func (c *fakeClient) IsFormatSupported(mode Mode, format renderpipe.WaveFormat) bool {
	if c.supported == nil {
		return true
	}
	return c.supported[format.SampleFormat]
}
func (c *fakeClient) Initialize(mode Mode, flags Flags, bufferMs uint32, format renderpipe.WaveFormat) error {
	c.initializedFmt = format
	c.initialized = true
	return c.initErr
}
func (c *fakeClient) GetBufferSize() (int, error)                    { return 1000, nil }
func (c *fakeClient) GetCurrentPadding() (int, error)                { return 0, nil }
func (c *fakeClient) GetBuffer(int) ([]byte, error)                  { return nil, nil }
func (c *fakeClient) ReleaseBuffer(int, ReleaseFlags) error           { return nil }
func (c *fakeClient) Start() error                                   { return nil }
func (c *fakeClient) Stop() error                                    { return nil }
func (c *fakeClient) Reset() error                                   { return nil }
func (c *fakeClient) SetEventHandle(ch chan struct{}) bool            { return false }
func (c *fakeClient) GetStreamLatency() (int64, error)                { return c.latency, nil }
func (c *fakeClient) ClockPosition() (int64, error)                   { return 0, nil }
func (c *fakeClient) ClockFrequency() (int64, error)                  { return 0, nil }

type fakeFactory struct {
	client    *fakeClient
	endpoints []EndpointInfo
	def       EndpointInfo
	defErr    error
	openErr   error
}

func (f *fakeFactory) Enumerate() ([]EndpointInfo, error)       { return f.endpoints, nil }
func (f *fakeFactory) DefaultEndpoint() (EndpointInfo, error)   { return f.def, f.defErr }
func (f *fakeFactory) Open(endpointID string) (Client, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.client, nil
}

func TestCreate_SharedModeNegotiatesF32MixFormat(t *testing.T) {
	client := &fakeClient{mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16)}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default", Name: "Speakers"}}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	record, err := Create(factory, Settings{}, requested, false)
	require.NoError(t, err)
	assert.Equal(t, renderpipe.FormatF32, record.NegotiatedFormat.SampleFormat)
	assert.Equal(t, 48000, record.NegotiatedFormat.SampleRate)
	assert.False(t, record.Flags.Exclusive)
}

func TestCreate_ExclusiveModeProbesListInPriorityOrder(t *testing.T) {
	client := &fakeClient{
		mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16),
		supported: map[renderpipe.SampleFormat]bool{renderpipe.FormatS24: true},
	}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default"}}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	record, err := Create(factory, Settings{Exclusive: true}, requested, false)
	require.NoError(t, err)
	assert.Equal(t, renderpipe.FormatS24, record.NegotiatedFormat.SampleFormat)
	assert.True(t, record.Flags.Exclusive)
}

func TestCreate_ExclusiveModeFallsBackToS16WhenProbeListExhausted(t *testing.T) {
	client := &fakeClient{
		mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16),
		supported: map[renderpipe.SampleFormat]bool{renderpipe.FormatS16: true},
	}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default"}}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	record, err := Create(factory, Settings{Exclusive: true}, requested, false)
	require.NoError(t, err)
	assert.Equal(t, renderpipe.FormatS16, record.NegotiatedFormat.SampleFormat)
}

func TestCreate_ExclusiveModeErrorsWhenNothingSupported(t *testing.T) {
	client := &fakeClient{
		mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16),
		supported: map[renderpipe.SampleFormat]bool{},
	}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default"}}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	_, err := Create(factory, Settings{Exclusive: true}, requested, false)
	assert.Error(t, err)
}

func TestCreate_BitstreamRequestRequiresExclusiveSupport(t *testing.T) {
	client := &fakeClient{
		mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16),
		supported: map[renderpipe.SampleFormat]bool{},
	}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default"}}

	requested := renderpipe.WaveFormat{SampleRate: 48000, Channels: 2, ChannelMask: renderpipe.MaskStereo, SampleFormat: renderpipe.FormatUnknown}
	_, err := Create(factory, Settings{}, requested, false)
	assert.Error(t, err)
}

func TestCreate_DefaultBufferMsAppliedWhenZero(t *testing.T) {
	client := &fakeClient{mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16)}
	factory := &fakeFactory{client: client, def: EndpointInfo{ID: "default"}}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	record, err := Create(factory, Settings{BufferMs: 0}, requested, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), record.BufferDurationMs)
}

func TestCreate_PropagatesDefaultEndpointFailure(t *testing.T) {
	factory := &fakeFactory{defErr: errors.New("no default device")}
	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	_, err := Create(factory, Settings{}, requested, false)
	assert.Error(t, err)
}

func TestCreate_UsesExplicitEndpointIDFromEnumerate(t *testing.T) {
	client := &fakeClient{mixFormat: renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatS16)}
	factory := &fakeFactory{
		client:    client,
		endpoints: []EndpointInfo{{ID: "usb-dac", Name: "USB DAC"}},
	}

	requested := renderpipe.NewPCMFormat(44100, 2, renderpipe.MaskStereo, renderpipe.FormatS16)
	record, err := Create(factory, Settings{EndpointID: "usb-dac"}, requested, false)
	require.NoError(t, err)
	assert.Equal(t, "usb-dac", record.EndpointID)
	assert.Equal(t, "USB DAC", record.EndpointName)
}
