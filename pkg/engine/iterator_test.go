package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceIterator(t *testing.T) {
	it := NewSliceIterator([]int{1, 2, 3})
	defer it.Stop()

	got, err := Collect(context.Background(), it)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)

	// Exhausted iterators stay exhausted.
	_, err = it.Next(context.Background())
	require.ErrorIs(t, err, ErrIteratorDone)
}

func TestEmptyIterator(t *testing.T) {
	it := NewEmptyIterator[string]()
	defer it.Stop()

	_, err := it.Next(context.Background())
	require.ErrorIs(t, err, ErrIteratorDone)
}

func TestSliceIteratorHonorsCancellation(t *testing.T) {
	it := NewSliceIterator([]int{1, 2, 3})
	defer it.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := it.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMappedIterator(t *testing.T) {
	it := NewMappedIterator(NewSliceIterator([]int{1, 2, 3}), func(_ context.Context, v int) (string, error) {
		return fmt.Sprintf("#%d", v), nil
	})

	got, err := Collect(context.Background(), it)
	require.NoError(t, err)
	require.Equal(t, []string{"#1", "#2", "#3"}, got)
}

func TestMappedIteratorFailsStream(t *testing.T) {
	boom := fmt.Errorf("boom")
	it := NewMappedIterator(NewSliceIterator([]int{1, 2, 3}), func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v * 10, nil
	})

	got, err := Collect(context.Background(), it)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{10}, got)
}

func TestCleanupIteratorRunsOnceOnExhaustion(t *testing.T) {
	var cleanups int
	it := NewCleanupIterator(NewSliceIterator([]int{1}), func() { cleanups++ })

	_, err := Collect(context.Background(), it)
	require.NoError(t, err)
	require.Equal(t, 1, cleanups)

	// Collect already stopped the iterator; stopping again is a no-op.
	it.Stop()
	require.Equal(t, 1, cleanups)
}

func TestCleanupIteratorRunsOnStop(t *testing.T) {
	var cleanups int
	it := NewCleanupIterator(NewSliceIterator([]int{1, 2, 3}), func() { cleanups++ })

	_, err := it.Next(context.Background())
	require.NoError(t, err)

	it.Stop()
	require.Equal(t, 1, cleanups)
}

func TestCollectStopsOnError(t *testing.T) {
	var cleanups int
	boom := fmt.Errorf("boom")
	inner := NewMappedIterator(NewSliceIterator([]int{1, 2}), func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	it := NewCleanupIterator(inner, func() { cleanups++ })

	got, err := Collect(context.Background(), it)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1}, got)
	require.Equal(t, 1, cleanups)
}
