package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
)

func TestChunkMergerMergesUpToBudget(t *testing.T) {
	c1 := pointCollection(t, 1, 2)
	c2 := pointCollection(t, 3, 4)
	c3 := pointCollection(t, 5)

	// A budget just above one chunk forces pairs of incoming chunks into
	// one outgoing chunk, with the leftover flushed at the end.
	merger := NewChunkMerger(engine.NewSliceIterator([]*features.Collection{c1, c2, c3}), c1.ByteSize()+1)
	defer merger.Stop()

	chunks, err := engine.Collect[*features.Collection](context.Background(), merger)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, 4, chunks[0].Len())
	require.Equal(t, 1, chunks[1].Len())

	column := chunks[0].Column("v")
	for i, want := range []float64{1, 2, 3, 4} {
		v, ok := column.FloatAt(i)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestChunkMergerForwardsOversizedChunks(t *testing.T) {
	big := pointCollection(t, 1, 2, 3, 4, 5, 6, 7, 8)

	merger := NewChunkMerger(engine.NewSliceIterator([]*features.Collection{big}), 1)
	defer merger.Stop()

	chunks, err := engine.Collect[*features.Collection](context.Background(), merger)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 8, chunks[0].Len())
}

func TestChunkMergerMergesEverythingUnderHugeBudget(t *testing.T) {
	merger := NewChunkMerger(engine.NewSliceIterator([]*features.Collection{
		pointCollection(t, 1),
		pointCollection(t, 2),
		pointCollection(t, 3),
	}), 1<<30)
	defer merger.Stop()

	chunks, err := engine.Collect[*features.Collection](context.Background(), merger)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 3, chunks[0].Len())
}

func TestChunkMergerEmptyStream(t *testing.T) {
	merger := NewChunkMerger(engine.NewEmptyIterator[*features.Collection](), 1024)
	defer merger.Stop()

	chunks, err := engine.Collect[*features.Collection](context.Background(), merger)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkMergerPropagatesSchemaMismatch(t *testing.T) {
	plain := pointCollection(t, 1)
	other, err := features.NewEmptyCollection(
		features.VectorDataTypeMultiPoint,
		plain.SRS(),
		map[string]features.ColumnType{"other": features.ColumnTypeText},
	)
	require.NoError(t, err)

	merger := NewChunkMerger(engine.NewSliceIterator([]*features.Collection{plain, other}), 1<<30)
	defer merger.Stop()

	_, err = engine.Collect[*features.Collection](context.Background(), merger)
	require.Error(t, err)
}
