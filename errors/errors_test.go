package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "registry", "LoadModule", "open library")
	require.Error(t, err)
	assert.Equal(t, "registry.LoadModule: open library failed: boom", err.Error())
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Wrap(nil, "c", "m", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		check func(error) bool
		class ErrorClass
	}{
		{"transient", WrapTransient, IsTransient, ErrorTransient},
		{"invalid", WrapInvalid, IsInvalid, ErrorInvalid},
		{"fatal", WrapFatal, IsFatal, ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "scheduler", "Start", "resolve binding")
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.class, Classify(err))
			assert.ErrorIs(t, err, base)

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, "scheduler", ce.Component)
			assert.Equal(t, "Start", ce.Operation)

			assert.Nil(t, tt.wrap(nil, "c", "m", "a"))
		})
	}
}

func TestClassifySentinels(t *testing.T) {
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrCommandOutOfRange)))
	assert.True(t, IsInvalid(ErrDuplicateModule))
	assert.True(t, IsFatal(ErrJoinTimeout))
	assert.True(t, IsFatal(ErrVersionMismatch))
	assert.True(t, IsTransient(ErrWatchdogTimeout))
	assert.True(t, IsTransient(stderrors.New("connection timeout")))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}

func TestClassifyPrecedence(t *testing.T) {
	// a classified error carries its class regardless of the wrapped sentinel
	err := WrapFatal(ErrCommandOutOfRange, "loader", "openPlugin", "check")
	assert.Equal(t, ErrorFatal, Classify(err))

	// unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, rc.InitialDelay, cfg.InitialDelay)
	assert.Equal(t, rc.MaxDelay, cfg.MaxDelay)
	assert.Equal(t, rc.BackoffFactor, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}
