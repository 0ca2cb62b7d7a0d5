// Package device defines the endpoint-layer contract of §4.10 and §6: the
// opaque platform audio API the core drives to open and feed a render
// device. Concrete backends (e.g. internal/device/malgo) implement Client.
package device

import (
	"github.com/audiorender/audiorender/internal/renderpipe"
)

// Mode selects shared or exclusive device access (§4.10 step 3).
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
)

// Role is always Render for this module; kept for parity with the
// enumerate-devices contract of §6 ("role=render").
type Role int

const (
	RoleRender Role = iota
)

// State is an endpoint's plug state (§6: "state in {active, unplugged}").
type State int

const (
	StateActive State = iota
	StateUnplugged
)

// EndpointInfo describes one enumerable render endpoint (§6).
type EndpointInfo struct {
	ID          string
	Name        string
	AdapterName string
	Role        Role
	State       State
}

// ReleaseFlags are passed to Client.ReleaseBuffer (§6: "flags >= {silent}").
type ReleaseFlags struct {
	Silent bool
}

// Flags records the negotiated stream properties of §3's "device backend
// record".
type Flags struct {
	Exclusive   bool
	EventDriven bool
	Realtime    bool
	Bitstream   bool
}

// Client is the opaque per-device-instance API of §6's "Endpoint layer
// interface". Implementations are not required to be safe for concurrent
// use by more than one Feeder.
type Client interface {
	GetMixFormat() (renderpipe.WaveFormat, error)
	IsFormatSupported(mode Mode, format renderpipe.WaveFormat) bool
	Initialize(mode Mode, flags Flags, bufferDurationMs uint32, format renderpipe.WaveFormat) error
	GetBufferSize() (frames int, err error)
	GetCurrentPadding() (frames int, err error)
	// GetBuffer reserves up to frames frames of device buffer and returns a
	// byte slice sized for exactly that many frames in the negotiated
	// format; the caller fills it and calls ReleaseBuffer.
	GetBuffer(frames int) ([]byte, error)
	ReleaseBuffer(frames int, flags ReleaseFlags) error
	Start() error
	Stop() error
	Reset() error
	// SetEventHandle arms ch to be signaled once per buffer-ready event, for
	// the event-driven feeder (§4.12). Backends that cannot generate such an
	// event return false.
	SetEventHandle(ch chan struct{}) bool
	GetStreamLatency() (ticks int64, err error)
	// ClockPosition and ClockFrequency expose the device clock used by the
	// Graph Clock while slaved (§4.13): clockTime = position*second/freq.
	ClockPosition() (int64, error)
	ClockFrequency() (int64, error)
}

// Enumerator lists available render endpoints (§6).
type Enumerator interface {
	Enumerate() ([]EndpointInfo, error)
}

// Record is the "device backend record" of §3: created once per
// setFormat, destroyed on device change, EndOfStream, or Stop.
type Record struct {
	// SessionID identifies one open/close lifetime of a Record, for
	// correlating logs and metrics across a setFormat/Stop pair.
	SessionID          string
	EndpointID         string
	AdapterName        string
	EndpointName       string
	NegotiatedFormat   renderpipe.WaveFormat
	MixFormat          renderpipe.WaveFormat
	BufferDurationMs   uint32
	StreamLatencyTicks int64
	Flags              Flags
	Client             Client
}

// Close tears down the record's client handle, tolerating a nil Client.
func (r *Record) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	_ = r.Client.Stop()
	return r.Client.Reset()
}
