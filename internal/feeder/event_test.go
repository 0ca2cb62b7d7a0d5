package feeder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorender/audiorender/internal/renderpipe"
)

func TestEventFeeder_PushFillsInternalQueue(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush

	chunk := renderpipe.NewOwnedChunk(record.NegotiatedFormat, make([]byte, 4*8))
	filled, err := f.Push(chunk, nil)
	require.NoError(t, err)
	assert.False(t, filled)
	assert.Equal(t, int64(8), f.pushedFrames.Load())
	assert.Equal(t, 0, chunk.Frames())
}

func TestEventFeeder_WakeDrainsQueueIntoDeviceAndDelegatesStart(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush

	var onFilledCalled bool
	chunk := renderpipe.NewOwnedChunk(record.NegotiatedFormat, make([]byte, 4*8))
	_, err := f.Push(chunk, func() { onFilledCalled = true })
	require.NoError(t, err)

	f.wakeCh <- struct{}{}

	require.Eventually(t, func() bool {
		return f.pushedFrames.Load() == 8
	}, time.Second, time.Millisecond)

	assert.True(t, f.started)
	assert.True(t, onFilledCalled)
}

func TestEventFeeder_WakeZeroFillsWhenQueueIsEmpty(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush

	f.wakeCh <- struct{}{}

	require.Eventually(t, func() bool {
		return client.padding > 0
	}, time.Second, time.Millisecond)

	assert.Greater(t, f.silenceFrames.Load(), int64(0))
	assert.False(t, f.started)
}

func TestEventFeeder_PushDropsDataBeyondQueueCapacity(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	record.BufferDurationMs = 1 // tiny queue cap in frames
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush

	big := renderpipe.NewOwnedChunk(record.NegotiatedFormat, make([]byte, 4*10000))
	filled, err := f.Push(big, nil)
	require.NoError(t, err)
	assert.True(t, filled) // queue saturates well before all input is consumed
}

func TestEventFeeder_SurvivesRepeatedResetCycles(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush

	require.NoError(t, f.Reset())
	require.NoError(t, f.Reset()) // a second flush cycle must not panic on a closed channel

	chunk := renderpipe.NewOwnedChunk(record.NegotiatedFormat, make([]byte, 4*8))
	_, err := f.Push(chunk, nil)
	require.NoError(t, err)

	f.wakeCh <- struct{}{}

	require.Eventually(t, func() bool {
		return f.pushedFrames.Load() == 8
	}, time.Second, time.Millisecond, "worker loop must still be servicing wakes after Reset")
}

func TestEventFeeder_StartIsNoopDelegatedToWake(t *testing.T) {
	client := newFakeClient(100, 4)
	record := newTestRecord(client, 48000, 2)
	f := NewEventFeeder(record)
	defer func() { close(f.stopCh) }() // terminal stop for the test; Reset() itself respawns the worker for flush
	assert.NoError(t, f.Start())
	assert.False(t, f.started)
}
