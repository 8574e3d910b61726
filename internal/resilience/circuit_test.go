package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall(context.Context) error { return eris.New("collaborator down") }
func okCall(context.Context) error      { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), failingCall))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), okCall)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	require.Error(t, cb.Execute(context.Background(), failingCall))
	require.Error(t, cb.Execute(context.Background(), failingCall))
	require.NoError(t, cb.Execute(context.Background(), okCall))
	require.Error(t, cb.Execute(context.Background(), failingCall))
	require.Error(t, cb.Execute(context.Background(), failingCall))

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingCall))
	assert.Equal(t, CircuitOpen, cb.State())

	// Before the reset timeout the probe is rejected.
	require.ErrorIs(t, cb.Execute(context.Background(), okCall), ErrCircuitOpen)

	now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), okCall))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingCall))

	now = now.Add(31 * time.Second)
	require.Error(t, cb.Execute(context.Background(), failingCall))
	assert.Equal(t, CircuitOpen, cb.State())
	require.ErrorIs(t, cb.Execute(context.Background(), okCall), ErrCircuitOpen)
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors pass through without tripping the circuit.
	require.Error(t, cb.Execute(context.Background(), failingCall))
	assert.Equal(t, CircuitClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), func(context.Context) error {
		return NewTransientError(eris.New("overloaded"), 503)
	}))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.Error(t, cb.Execute(context.Background(), failingCall))
	cb.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestExecuteVal_PropagatesValueAndCircuit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "", eris.New("boom")
	})
	require.Error(t, err)

	_, err = ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "unreachable", nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", eris.Wrap(NewTransientError(eris.New("x"), 503), "annotate"), true},
		{"rate limit message", eris.New("request failed: rate limit exceeded"), true},
		{"connection reset message", eris.New("read tcp: connection reset by peer"), true},
		{"permanent", eris.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
