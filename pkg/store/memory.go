package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
)

// Memory is an in-process vector index. Useful for tests and one-shot runs.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]models.EmbeddingRecord
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		records:   make(map[string]models.EmbeddingRecord),
	}
}

func (m *Memory) Upsert(_ context.Context, records []models.EmbeddingRecord) error {
	for _, r := range records {
		if err := checkDimension(m.dimension, r.Vector); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *Memory) Query(_ context.Context, req types.QueryRequest) ([]models.IndexMatch, error) {
	if err := checkDimension(m.dimension, req.Vector); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]models.IndexMatch, 0, len(m.records))
	for _, r := range m.records {
		if r.Namespace != req.Namespace {
			continue
		}
		match := models.IndexMatch{ID: r.ID, Score: cosineSimilarity(req.Vector, r.Vector)}
		if req.IncludeMetadata {
			match.Metadata = r.Metadata
		}
		matches = append(matches, match)
	}
	return topK(matches, req.TopK), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() {}

func checkDimension(dimension int, vector []float32) error {
	if dimension > 0 && len(vector) != dimension {
		return apperr.New(apperr.KindPermanentProvider, "index",
			"vector dimension mismatch: expected %d, got %d", dimension, len(vector))
	}
	return nil
}

// topK sorts by score descending, breaking ties by id so results are stable.
func topK(matches []models.IndexMatch, k int) []models.IndexMatch {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
