// Package indexer commits embedding records to a vector index.
package indexer

import (
	"context"
	"fmt"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

const DefaultBatchSize = 100

type Writer struct {
	index     types.VectorIndex
	batchSize int
}

func NewWriter(index types.VectorIndex, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{index: index, batchSize: batchSize}
}

// Upsert writes records in consecutive batches and returns how many were
// written. The first failing batch aborts the run; batches already written
// stay in the index; a re-run overwrites them by id.
func (w *Writer) Upsert(ctx context.Context, records []models.EmbeddingRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += w.batchSize {
		end := start + w.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := w.index.Upsert(ctx, records[start:end]); err != nil {
			return written, fmt.Errorf("upsert batch %d-%d: %w", start, end-1, err)
		}
		written += end - start
	}
	return written, nil
}
