package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Retries store failures until success", func(t *testing.T) {
		calls := 0
		v, err := RetryStore(ctx, testRetryPolicy, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, storeError("ping", errors.New("connection refused"))
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("Gives up after max tries", func(t *testing.T) {
		calls := 0
		_, err := RetryStore(ctx, testRetryPolicy, func() (struct{}, error) {
			calls++
			return struct{}{}, storeError("ping", errors.New("connection refused"))
		})
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Equal(t, int(testRetryPolicy.MaxTries), calls)
	})

	t.Run("Other errors are terminal", func(t *testing.T) {
		calls := 0
		_, err := RetryStore(ctx, testRetryPolicy, func() (struct{}, error) {
			calls++
			return struct{}{}, ErrCertificateNotFound
		})
		assert.ErrorIs(t, err, ErrCertificateNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("Sealing failures are terminal", func(t *testing.T) {
		calls := 0
		_, err := RetryStore(ctx, testRetryPolicy, func() (struct{}, error) {
			calls++
			return struct{}{}, sealingError("render", errRender)
		})
		assert.ErrorIs(t, err, ErrSealingFailure)
		assert.Equal(t, 1, calls)
	})
}

func TestSealingError(t *testing.T) {
	err := sealingError("render", errRender)
	assert.ErrorIs(t, err, ErrSealingFailure)
	assert.ErrorIs(t, err, errRender)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "render")
}
