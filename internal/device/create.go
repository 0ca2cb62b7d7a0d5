package device

import (
	"github.com/google/uuid"

	"github.com/audiorender/audiorender/internal/rendererrors"
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Factory opens a Client bound to one endpoint (§4.10 step 2: "activate an
// audio client"). Concrete backends (internal/device/malgo) implement this.
type Factory interface {
	Enumerator
	DefaultEndpoint() (EndpointInfo, error)
	Open(endpointID string) (Client, error)
}

// Settings is the subset of the settings interface (§6) Create needs.
type Settings struct {
	EndpointID        string
	Exclusive         bool
	BufferMs          uint32
	AllowBitstreaming bool
}

// candidate is one entry of the exclusive-mode probe list (§4.10 step 3).
type candidate struct {
	format   renderpipe.SampleFormat
	bits     int // container bits
	validBits int
}

// exclusiveProbeList is the priority list of §4.10: "{f32/32, s32/32,
// s24/24, s32 carrying 24 valid bits, s16/16} x {inputRate, mixRate} x
// mixMask, then fall back to packed s16/16".
var exclusiveProbeList = []candidate{
	{renderpipe.FormatF32, 32, 32},
	{renderpipe.FormatS32, 32, 32},
	{renderpipe.FormatS24, 24, 24},
	{renderpipe.FormatS32, 32, 24},
	{renderpipe.FormatS16, 16, 16},
}

// Create implements §4.10's `create(settings, requestedFormat, realtime)`.
func Create(factory Factory, settings Settings, requested renderpipe.WaveFormat, realtime bool) (*Record, error) {
	endpointID := settings.EndpointID
	var epInfo EndpointInfo
	if endpointID == "" {
		ep, err := factory.DefaultEndpoint()
		if err != nil {
			return nil, rendererrors.New(err).
				Component("device").
				Category(rendererrors.CategoryEndpointFailure).
				Context("operation", "default_endpoint").
				Build()
		}
		epInfo = ep
		endpointID = ep.ID
	} else {
		eps, err := factory.Enumerate()
		if err != nil {
			return nil, rendererrors.New(err).
				Component("device").
				Category(rendererrors.CategoryEndpointFailure).
				Context("operation", "enumerate").
				Build()
		}
		for _, ep := range eps {
			if ep.ID == endpointID {
				epInfo = ep
				break
			}
		}
	}

	client, err := factory.Open(endpointID)
	if err != nil {
		return nil, rendererrors.New(err).
			Component("device").
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "open").
			Context("endpoint_id", endpointID).
			Build()
	}

	mixFormat, err := client.GetMixFormat()
	if err != nil {
		return nil, rendererrors.New(err).
			Component("device").
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "get_mix_format").
			Build()
	}

	flags := Flags{Realtime: realtime}
	var negotiated renderpipe.WaveFormat

	switch {
	case requested.SampleFormat.IsBitstream():
		flags.Exclusive = true
		flags.Bitstream = true
		if !client.IsFormatSupported(ModeExclusive, requested) {
			return nil, rendererrors.New(nil).
				Component("device").
				Category(rendererrors.CategoryUnsupportedFormat).
				Context("operation", "is_format_supported").
				Build()
		}
		negotiated = requested

	case settings.Exclusive:
		flags.Exclusive = true
		found := false
		for _, c := range exclusiveProbeList {
			for _, rate := range []int{requested.SampleRate, mixFormat.SampleRate} {
				cand := requested
				cand.SampleFormat = c.format
				cand.ContainerBits = c.bits
				cand.ValidBits = c.validBits
				cand.SampleRate = rate
				cand.ChannelMask = mixFormat.ChannelMask
				cand.Channels = mixFormat.Channels
				if client.IsFormatSupported(ModeExclusive, cand) {
					negotiated = cand
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			fallback := requested
			fallback.SampleFormat = renderpipe.FormatS16
			fallback.ContainerBits = 16
			fallback.ValidBits = 16
			fallback.ChannelMask = mixFormat.ChannelMask
			fallback.Channels = mixFormat.Channels
			if !client.IsFormatSupported(ModeExclusive, fallback) {
				return nil, rendererrors.New(nil).
					Component("device").
					Category(rendererrors.CategoryUnsupportedFormat).
					Context("operation", "exclusive_probe").
					Build()
			}
			negotiated = fallback
		}

	default:
		negotiated = mixFormat
		negotiated.SampleFormat = renderpipe.FormatF32
		negotiated.ContainerBits = 32
		negotiated.ValidBits = 32
	}

	bufferMs := settings.BufferMs
	if bufferMs == 0 {
		bufferMs = 200
	}

	if err := client.Initialize(modeFor(flags.Exclusive), flags, bufferMs, negotiated); err != nil {
		return nil, rendererrors.New(err).
			Component("device").
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "initialize").
			Build()
	}

	latency, err := client.GetStreamLatency()
	if err != nil {
		return nil, rendererrors.New(err).
			Component("device").
			Category(rendererrors.CategoryEndpointFailure).
			Context("operation", "get_stream_latency").
			Build()
	}

	return &Record{
		SessionID:          uuid.NewString(),
		EndpointID:         endpointID,
		AdapterName:        epInfo.AdapterName,
		EndpointName:       epInfo.Name,
		NegotiatedFormat:   negotiated,
		MixFormat:          mixFormat,
		BufferDurationMs:   bufferMs,
		StreamLatencyTicks: latency,
		Flags:              flags,
		Client:             client,
	}, nil
}

func modeFor(exclusive bool) Mode {
	if exclusive {
		return ModeExclusive
	}
	return ModeShared
}
