package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superego-sh/superego/internal/model"
)

func TestBreaker_OpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, RecoveryTimeout: time.Hour})
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return fail })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, model.KindCircuitOpen, model.KindOf(err))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 2, RecoveryTimeout: time.Hour})
	fail := errors.New("boom")

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error { return fail }))
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error { return fail }))
	assert.Equal(t, StateClosed, b.State()) // still below threshold after the reset
}

func TestBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	fail := errors.New("boom")

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error { return fail }))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TimeoutEnforcedRegardlessOfState(t *testing.T) {
	b := New(Config{Name: "test", TimeoutSeconds: 10 * time.Millisecond})
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
}

func TestBreaker_PanicIsRecoveredAsError(t *testing.T) {
	b := New(Config{Name: "test"})
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
}
