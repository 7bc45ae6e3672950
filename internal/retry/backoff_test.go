package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_Doubles(t *testing.T) {
	cfg := Config{Attempts: 3, InitialDelay: time.Second}
	require.Equal(t, time.Second, cfg.Backoff(0))
	require.Equal(t, 2*time.Second, cfg.Backoff(1))
	require.Equal(t, 4*time.Second, cfg.Backoff(2))
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), Config{Attempts: 3, InitialDelay: time.Millisecond}, "op",
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 1, calls)
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), Config{Attempts: 3, InitialDelay: time.Millisecond}, "op",
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
	require.NoError(t, err)
	require.Equal(t, 42, out)
	require.Equal(t, 3, calls)
}

func TestDo_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{Attempts: 3, InitialDelay: time.Millisecond}, "op",
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("attempt failed")
		})
	require.Error(t, err)
	require.Equal(t, "attempt failed", err.Error())
	require.Equal(t, 3, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Config{Attempts: 3, InitialDelay: time.Hour}, "op",
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "boom")
	require.Equal(t, 1, calls)
}

func TestDo_DefaultsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{InitialDelay: time.Millisecond}, "op",
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("nope")
		})
	require.Error(t, err)
	require.Equal(t, DefaultAttempts, calls)
}
