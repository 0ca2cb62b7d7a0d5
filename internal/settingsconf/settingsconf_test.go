package settingsconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/crossfeed"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "", s.OutputDevice().EndpointID)
	assert.Equal(t, uint32(200), s.OutputDevice().BufferMs)
	assert.False(t, s.AllowBitstreaming())
	assert.Equal(t, crossfeed.Config{
		Enabled:  false,
		CutoffHz: crossfeed.PresetCMoyCutoffHz,
		Level:    crossfeed.PresetCMoyLevel,
	}, s.Crossfeed())
	assert.True(t, s.PeakLimiterSharedMode())
}

func TestLoad_ReadsOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	contents := `
output:
  device_id: usb-dac
  exclusive: true
  buffer_ms: 50
  allow_bitstreaming: true
crossfeed:
  enabled: true
  cutoff_hz: 650
  level: 95
limiter:
  shared_mode: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	out := s.OutputDevice()
	assert.Equal(t, "usb-dac", out.EndpointID)
	assert.True(t, out.Exclusive)
	assert.Equal(t, uint32(50), out.BufferMs)
	assert.True(t, s.AllowBitstreaming())
	assert.Equal(t, crossfeed.Config{Enabled: true, CutoffHz: 650, Level: 95}, s.Crossfeed())
	assert.False(t, s.PeakLimiterSharedMode())
}

func TestReload_IncrementsSerial(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	first := s.Serial()
	s.reload()
	assert.Equal(t, first+1, s.Serial())
}

func TestSetCrossfeedPreset_AppliesValuesAndBumpsSerial(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	before := s.Serial()

	s.SetCrossfeedPreset(true, crossfeed.PresetJMeierCutoffHz, crossfeed.PresetJMeierLevel)

	assert.Equal(t, crossfeed.Config{
		Enabled:  true,
		CutoffHz: crossfeed.PresetJMeierCutoffHz,
		Level:    crossfeed.PresetJMeierLevel,
	}, s.Crossfeed())
	assert.Greater(t, s.Serial(), before)
}
