// Package embedder turns document chunks into embedding records.
package embedder

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
)

const DefaultBatchSize = 64

type BatcherConfig struct {
	BatchSize  int
	MaxRetries int
	// RequestsPerSecond throttles provider calls; zero means unlimited.
	RequestsPerSecond float64
}

// Batcher embeds chunks in sequential batches. Batch N+1 is only sent once
// batch N has been embedded, so records come back in chunk order.
type Batcher struct {
	provider types.EmbeddingProvider
	config   BatcherConfig
	limiter  *rate.Limiter
	Retry    RetryPolicy
}

func NewBatcher(provider types.EmbeddingProvider, config BatcherConfig) *Batcher {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Batcher{
		provider: provider,
		config:   config,
		limiter:  rate.NewLimiter(limit, 1),
		Retry:    RetryPolicy{MaxRetries: config.MaxRetries},
	}
}

// EmbedAll returns one record per non-blank chunk. Blank chunks are skipped
// but keep their position, so record ids always follow the chunk index.
func (b *Batcher) EmbedAll(ctx context.Context, chunks []string, prefix string, src models.Source) ([]models.EmbeddingRecord, error) {
	records := make([]models.EmbeddingRecord, 0, len(chunks))

	for start := 0; start < len(chunks); start += b.config.BatchSize {
		end := start + b.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var texts []string
		var positions []int
		for i := start; i < end; i++ {
			if strings.TrimSpace(chunks[i]) == "" {
				continue
			}
			texts = append(texts, chunks[i])
			positions = append(positions, i)
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := b.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d of %s: %w", start, end-1, src.Key, err)
		}

		for j, pos := range positions {
			records = append(records, models.EmbeddingRecord{
				ID:        models.RecordID(prefix, pos),
				Vector:    vectors[j],
				Namespace: src.Namespace,
				Metadata: map[string]any{
					models.MetaFilename:   src.Filename(),
					models.MetaKey:        src.Key,
					models.MetaBucket:     src.Bucket,
					models.MetaChunkIndex: pos,
					models.MetaText:       texts[j],
					models.MetaSourceURL:  src.URL(),
				},
			})
		}
	}

	return records, nil
}

// Embed sends texts in one provider call, retrying transient failures.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := b.Retry.Do(ctx, "embed", func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := b.provider.CreateEmbedding(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, apperr.New(apperr.KindPermanentProvider, "embed",
			"provider returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}
