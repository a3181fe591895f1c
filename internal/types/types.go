package types

import (
	"context"

	"github.com/xhad/docrag/internal/models"
)

// Core interfaces
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

type Extractor interface {
	Extract(ctx context.Context, key string, data []byte) (string, error)
}

// EmbeddingProvider returns one vector per input, in input order.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type QueryRequest struct {
	Vector          []float32
	TopK            int
	Namespace       string
	IncludeMetadata bool
}

type VectorIndex interface {
	Upsert(ctx context.Context, records []models.EmbeddingRecord) error
	Query(ctx context.Context, req QueryRequest) ([]models.IndexMatch, error)
	Close()
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
