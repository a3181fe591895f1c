package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
)

const bucketPrefix = "ns:"

type storedRecord struct {
	Vector   []float32      `json:"v"`
	Metadata map[string]any `json:"m,omitempty"`
}

// Bolt persists records in a bbolt file, one bucket per namespace, and
// searches them by brute-force cosine similarity.
type Bolt struct {
	mu        sync.RWMutex
	db        *bbolt.DB
	dimension int
}

func NewBolt(path string, dimension int) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt index %s: %w", path, err)
	}
	return &Bolt{db: db, dimension: dimension}, nil
}

func (b *Bolt) Upsert(_ context.Context, records []models.EmbeddingRecord) error {
	for _, r := range records {
		if err := checkDimension(b.dimension, r.Vector); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, r := range records {
			bucket, err := tx.CreateBucketIfNotExists([]byte(bucketPrefix + r.Namespace))
			if err != nil {
				return fmt.Errorf("failed to create namespace bucket: %w", err)
			}
			data, err := json.Marshal(storedRecord{Vector: r.Vector, Metadata: r.Metadata})
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
			}
			if err := bucket.Put([]byte(r.ID), data); err != nil {
				return fmt.Errorf("failed to write record %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (b *Bolt) Query(_ context.Context, req types.QueryRequest) ([]models.IndexMatch, error) {
	if err := checkDimension(b.dimension, req.Vector); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []models.IndexMatch
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketPrefix + req.Namespace))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var stored storedRecord
			if err := json.Unmarshal(v, &stored); err != nil {
				// Skip corrupted entries
				return nil
			}
			match := models.IndexMatch{ID: string(k), Score: cosineSimilarity(req.Vector, stored.Vector)}
			if req.IncludeMetadata {
				match.Metadata = stored.Metadata
			}
			matches = append(matches, match)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "query", err)
	}
	return topK(matches, req.TopK), nil
}

// Count returns the number of records in a namespace.
func (b *Bolt) Count(namespace string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket([]byte(bucketPrefix + namespace)); bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, err
}

func (b *Bolt) Close() {
	if b.db != nil {
		b.db.Close()
	}
}
