package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastOptions(retries int) Options {
	return Options{
		Retries:  retries,
		MinDelay: time.Millisecond,
		MaxDelay: 5 * time.Millisecond,
		Factor:   2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOptions(3))

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDo_PropagatesLastErrorUnchanged(t *testing.T) {
	sentinel := errors.New("store unreachable")
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return sentinel
	}, fastOptions(3))

	require.ErrorIs(t, err, sentinel)
	// 1 initial attempt + 3 retries.
	require.Equal(t, 4, attempts)
}

func TestDo_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return errors.New("nope")
	}, fastOptions(0))

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	}, Options{Retries: 10, MinDelay: 50 * time.Millisecond, MaxDelay: time.Second, Factor: 2})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDo_FirstSuccessShortCircuits(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return nil
	}, fastOptions(3))

	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.Equal(t, 3, opts.Retries)
	require.Equal(t, 100*time.Millisecond, opts.MinDelay)
	require.Equal(t, 2*time.Second, opts.MaxDelay)
	require.Equal(t, 2.0, opts.Factor)
}
