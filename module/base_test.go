package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

func TestBaseLifecycle(t *testing.T) {
	b := NewBase("test", "1.0.0")
	assert.Equal(t, StateUninitialized, b.State())

	require.NoError(t, b.Initialize())
	assert.Equal(t, StateReady, b.State())

	require.NoError(t, b.Start())
	assert.Equal(t, StateRunning, b.State())
	assert.True(t, b.Healthy())

	require.NoError(t, b.Stop())
	assert.Equal(t, StatePaused, b.State())
	assert.False(t, b.Healthy())

	// paused modules can restart
	require.NoError(t, b.Start())
	assert.Equal(t, StateRunning, b.State())

	require.NoError(t, b.Shutdown())
	assert.Equal(t, StateShutdown, b.State())
}

func TestBaseInvalidTransitions(t *testing.T) {
	t.Run("double initialize", func(t *testing.T) {
		b := NewBase("test", "1.0.0")
		require.NoError(t, b.Initialize())
		err := b.Initialize()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrAlreadyInitialized)
	})

	t.Run("start before initialize", func(t *testing.T) {
		b := NewBase("test", "1.0.0")
		err := b.Start()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	})

	t.Run("stop before start", func(t *testing.T) {
		b := NewBase("test", "1.0.0")
		require.NoError(t, b.Initialize())
		err := b.Stop()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrNotStarted)
	})

	t.Run("initialize after shutdown", func(t *testing.T) {
		b := NewBase("test", "1.0.0")
		require.NoError(t, b.Shutdown())
		err := b.Initialize()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrShutdown)
	})
}

func TestBaseShutdownIdempotent(t *testing.T) {
	b := NewBase("test", "1.0.0")
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Shutdown())
	require.NoError(t, b.Shutdown())
	assert.Equal(t, StateShutdown, b.State())
}

func TestBaseFailAndReset(t *testing.T) {
	b := NewBase("test", "1.0.0")
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	b.Fail()
	assert.Equal(t, StateError, b.State())
	assert.EqualValues(t, 1, b.Metrics().ErrorCount)

	// Fail is idempotent in Error
	b.Fail()
	assert.EqualValues(t, 1, b.Metrics().ErrorCount)

	require.NoError(t, b.Reset())
	assert.Equal(t, StateUninitialized, b.State())

	// full recovery cycle
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())
	assert.True(t, b.Healthy())

	err := b.Reset()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestBaseFailAfterShutdown(t *testing.T) {
	b := NewBase("test", "1.0.0")
	require.NoError(t, b.Shutdown())
	b.Fail()
	assert.Equal(t, StateShutdown, b.State())
}

func TestBaseHeartbeat(t *testing.T) {
	b := NewBase("test", "1.0.0")
	assert.True(t, b.LastHeartbeat().IsZero())

	before := time.Now()
	b.Heartbeat()
	hb := b.LastHeartbeat()
	assert.False(t, hb.Before(before))
	assert.False(t, hb.After(time.Now()))
}

func TestBaseRecordProcessing(t *testing.T) {
	b := NewBase("test", "1.0.0")
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	b.RecordProcessing(10*time.Millisecond, nil)
	b.RecordProcessing(30*time.Millisecond, nil)
	b.RecordProcessing(5*time.Millisecond, assert.AnError)

	m := b.Metrics()
	assert.EqualValues(t, 2, m.ProcessedCount)
	assert.EqualValues(t, 1, m.ErrorCount)
	assert.Equal(t, 20*time.Millisecond, m.AvgProcessingTime)
	assert.Equal(t, 30*time.Millisecond, m.MaxProcessingTime)
	assert.GreaterOrEqual(t, m.Uptime, time.Duration(0))
}

func TestBaseAttachIPCOnce(t *testing.T) {
	b := NewBase("test", "1.0.0")
	q1 := &recordingQueue{}
	q2 := &recordingQueue{}

	b.AttachIPC(IPC{Queue: q1})
	b.AttachIPC(IPC{Queue: q2})
	assert.Same(t, q1, b.IPC().Queue.(*recordingQueue))

	require.NoError(t, b.Shutdown())
	assert.Nil(t, b.IPC().Queue)
}

type recordingQueue struct {
	published int
}

func (q *recordingQueue) Publish(string, []byte) error {
	q.published++
	return nil
}
