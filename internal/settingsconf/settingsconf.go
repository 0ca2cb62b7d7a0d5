// Package settingsconf implements §6's settings interface over a
// viper-backed YAML configuration file, grounded on the teacher's
// internal/conf package (SetDefault + struct-tagged Settings, reloaded
// under a mutex).
package settingsconf

import (
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/audiorender/audiorender/internal/crossfeed"
	"github.com/audiorender/audiorender/internal/device"
)

// Settings is the live, reloadable configuration backing §6's settings
// interface. serial increments on every mutation so DSP stages can
// detect changes against a cached value.
type Settings struct {
	mu     sync.RWMutex
	v      *viper.Viper
	serial atomic.Uint32

	outputDevice        string
	exclusive           bool
	bufferMs            uint32
	allowBitstreaming   bool
	crossfeedEnabled    bool
	crossfeedCutoffHz   uint32
	crossfeedLevel      uint32
	peakLimiterShared   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.device_id", "")
	v.SetDefault("output.exclusive", false)
	v.SetDefault("output.buffer_ms", 200)
	v.SetDefault("output.allow_bitstreaming", false)
	v.SetDefault("crossfeed.enabled", false)
	v.SetDefault("crossfeed.cutoff_hz", crossfeed.PresetCMoyCutoffHz)
	v.SetDefault("crossfeed.level", crossfeed.PresetCMoyLevel)
	v.SetDefault("limiter.shared_mode", true)
}

// Load reads configPath (YAML) through viper, falling back to defaults
// for anything unset.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	s := &Settings{v: v}
	s.reload()
	return s, nil
}

// reload snapshots the current viper values into the typed fields and
// bumps the serial. It takes mu for writing itself, so callers must not
// hold mu.
func (s *Settings) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputDevice = s.v.GetString("output.device_id")
	s.exclusive = s.v.GetBool("output.exclusive")
	s.bufferMs = uint32(s.v.GetInt("output.buffer_ms"))
	s.allowBitstreaming = s.v.GetBool("output.allow_bitstreaming")
	s.crossfeedEnabled = s.v.GetBool("crossfeed.enabled")
	s.crossfeedCutoffHz = uint32(s.v.GetInt("crossfeed.cutoff_hz"))
	s.crossfeedLevel = uint32(s.v.GetInt("crossfeed.level"))
	s.peakLimiterShared = s.v.GetBool("limiter.shared_mode")
	s.serial.Add(1)
}

// Serial returns the monotonically increasing mutation counter (§6).
func (s *Settings) Serial() uint32 { return s.serial.Load() }

// OutputDevice returns the configured render endpoint selection (§6).
func (s *Settings) OutputDevice() device.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return device.Settings{
		EndpointID:        s.outputDevice,
		Exclusive:         s.exclusive,
		BufferMs:          s.bufferMs,
		AllowBitstreaming: s.allowBitstreaming,
	}
}

// AllowBitstreaming reports whether passthrough bitstream formats may be
// requested (§6).
func (s *Settings) AllowBitstreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowBitstreaming
}

// Crossfeed returns the current crossfeed configuration (§6). Presets
// CMoy (700Hz, 60) and JMeier (650Hz, 95) are named constants in
// internal/crossfeed.
func (s *Settings) Crossfeed() crossfeed.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return crossfeed.Config{
		Enabled:  s.crossfeedEnabled,
		CutoffHz: s.crossfeedCutoffHz,
		Level:    s.crossfeedLevel,
	}
}

// PeakLimiterSharedMode reports whether the limiter should use the 0.98
// shared-mode ceiling rather than the 1.0 exclusive-mode ceiling (§6).
func (s *Settings) PeakLimiterSharedMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peakLimiterShared
}

// SetCrossfeedPreset applies a named preset and bumps the serial (§6).
func (s *Settings) SetCrossfeedPreset(enabled bool, cutoffHz, level uint32) {
	s.mu.Lock()
	s.v.Set("crossfeed.enabled", enabled)
	s.v.Set("crossfeed.cutoff_hz", cutoffHz)
	s.v.Set("crossfeed.level", level)
	s.mu.Unlock()
	s.reload()
}
