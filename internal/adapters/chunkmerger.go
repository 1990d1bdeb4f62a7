package adapters

import (
	"context"
	"errors"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
)

// ChunkMerger coalesces a feature stream into chunks of at least
// chunkByteSize bytes. The budget is a trigger, not a cap: a chunk is
// emitted as soon as it reaches the budget, so a single oversized incoming
// collection passes through whole. The final chunk may be any size.
type ChunkMerger struct {
	inner         engine.CollectionIterator
	chunkByteSize int
	done          bool
	failed        error
}

// NewChunkMerger wraps inner. A non-positive chunkByteSize disables
// merging and forwards chunks as they come.
func NewChunkMerger(inner engine.CollectionIterator, chunkByteSize int) *ChunkMerger {
	return &ChunkMerger{inner: inner, chunkByteSize: chunkByteSize}
}

// Next returns the next merged chunk.
func (m *ChunkMerger) Next(ctx context.Context) (*features.Collection, error) {
	if m.failed != nil {
		return nil, m.failed
	}
	if m.done {
		return nil, engine.ErrIteratorDone
	}

	var merged *features.Collection
	for {
		chunk, err := m.inner.Next(ctx)
		if errors.Is(err, engine.ErrIteratorDone) {
			m.done = true
			if merged == nil {
				return nil, engine.ErrIteratorDone
			}
			return merged, nil
		}
		if err != nil {
			m.failed = err
			return nil, err
		}

		if merged == nil {
			merged = chunk
		} else {
			merged, err = merged.Append(chunk)
			if err != nil {
				m.failed = err
				return nil, err
			}
		}
		if merged.ByteSize() >= m.chunkByteSize {
			return merged, nil
		}
	}
}

// Stop releases the inner stream.
func (m *ChunkMerger) Stop() {
	m.inner.Stop()
	m.done = true
}
