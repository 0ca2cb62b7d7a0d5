package crossfeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

func TestInitialize_InactiveWhenDisabled(t *testing.T) {
	s := New(Config{Enabled: false})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)
	assert.False(t, s.active)
}

func TestInitialize_InactiveForNonStereoLayout(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: PresetCMoyCutoffHz, Level: PresetCMoyLevel})
	in := renderpipe.NewPCMFormat(48000, 6, renderpipe.Mask5Point1, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)
	assert.False(t, s.active)
}

func TestInitialize_ActiveForEnabledStereo(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: PresetCMoyCutoffHz, Level: PresetCMoyLevel})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)
	assert.True(t, s.active)
}

func TestReconfigure_ClampsCutoffAndLevelToRange(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: 50, Level: 500})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)
	assert.Greater(t, s.gain, 0.0)
	assert.LessOrEqual(t, s.gain, 1.5)
}

func TestProcess_PassThroughWhenInactive(t *testing.T) {
	s := New(Config{Enabled: false})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	chunk := renderpipe.NewF32Chunk(in, []float32{0.5, -0.5})
	out, err := s.Process(chunk)
	require.NoError(t, err)
	assert.Same(t, chunk, out)
}

func TestProcess_BlendsOppositeChannelIntoEach(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: PresetCMoyCutoffHz, Level: PresetCMoyLevel})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	chunk := renderpipe.NewF32Chunk(in, []float32{1.0, 0.0})
	out, err := s.Process(chunk)
	require.NoError(t, err)
	samples := out.ToF32()
	// right channel starts at 0 but should pick up energy bled from left.
	assert.Greater(t, samples[1], float32(0.0))
}

func TestSyncSettings_SkipsReconfigureWhenSerialUnchanged(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: PresetCMoyCutoffHz, Level: PresetCMoyLevel})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	s.SyncSettings(Config{Enabled: true, CutoffHz: PresetJMeierCutoffHz, Level: PresetJMeierLevel}, 1)
	firstGain := s.gain
	s.SyncSettings(Config{Enabled: true, CutoffHz: 999, Level: 999}, 1) // same serial, should be ignored
	assert.Equal(t, firstGain, s.gain)
}

func TestSyncSettings_ReconfiguresOnNewSerial(t *testing.T) {
	s := New(Config{Enabled: true, CutoffHz: PresetCMoyCutoffHz, Level: PresetCMoyLevel})
	in := renderpipe.NewPCMFormat(48000, 2, renderpipe.MaskStereo, renderpipe.FormatF32)
	_, err := s.Initialize(in)
	require.NoError(t, err)

	s.SyncSettings(Config{Enabled: true, CutoffHz: PresetJMeierCutoffHz, Level: PresetJMeierLevel}, 2)
	assert.InDelta(t, float64(PresetJMeierLevel)/100.0, s.gain, 1e-9)
}

func TestFinish_HasNoLookaheadToDrain(t *testing.T) {
	s := New(Config{Enabled: true})
	tail, err := s.Finish()
	require.NoError(t, err)
	assert.Nil(t, tail)
}
