package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	Lists      int
}

// PGVector stores records in a Postgres table with a pgvector column.
type PGVector struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewPGVector(ctx context.Context, config VectorStoreConfig) (*PGVector, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.Lists == 0 {
		config.Lists = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPermanentProvider, "connect", fmt.Errorf("failed to connect to database: %w", err))
	}

	vs := &PGVector{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVector) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL DEFAULT '',
			content TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		vs.config.TableName, vs.config.TableName, vs.config.Lists)

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createNamespaceIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createNamespaceIndex); err != nil {
		return fmt.Errorf("failed to create namespace index: %w", err)
	}

	return nil
}

// Upsert writes all records in one transaction, sent as a single pgx batch.
func (vs *PGVector) Upsert(ctx context.Context, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := checkDimension(vs.config.VectorDim, r.Vector); err != nil {
			return err
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindPermanentProvider, "upsert", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			content = EXCLUDED.content,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	for _, r := range records {
		chunkIndex, _ := r.Metadata[models.MetaChunkIndex].(int)
		batch.Queue(stmt,
			r.ID,
			r.Namespace,
			r.Text(),
			chunkIndex,
			pgvector.NewVector(r.Vector),
			r.Metadata,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return apperr.Wrap(apperr.KindPermanentProvider, "upsert", fmt.Errorf("failed to upsert %s: %w", r.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		return apperr.Wrap(apperr.KindPermanentProvider, "upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindPermanentProvider, "upsert", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Query orders by cosine distance and reports 1 - distance as the score.
func (vs *PGVector) Query(ctx context.Context, req types.QueryRequest) ([]models.IndexMatch, error) {
	if err := checkDimension(vs.config.VectorDim, req.Vector); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, metadata
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(req.Vector), req.Namespace, req.TopK)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPermanentProvider, "query", fmt.Errorf("failed to query documents: %w", err))
	}
	defer rows.Close()

	var matches []models.IndexMatch
	for rows.Next() {
		var m models.IndexMatch
		var metadata map[string]any
		if err := rows.Scan(&m.ID, &m.Score, &metadata); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "query", fmt.Errorf("failed to scan row: %w", err))
		}
		if req.IncludeMetadata {
			m.Metadata = metadata
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPermanentProvider, "query", err)
	}

	return matches, nil
}

func (vs *PGVector) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
