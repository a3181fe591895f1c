// Package ingest runs one document at a time through
// fetch -> extract -> chunk -> embed -> upsert -> cleanup.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
	"github.com/xhad/docrag/pkg/embedder"
	"github.com/xhad/docrag/pkg/indexer"
	"github.com/xhad/docrag/pkg/processor"
)

// State is how far a document got.
type State int

const (
	StateIgnored State = iota
	StateFetched
	StateTextExtracted
	StateChunked
	StateEmbedded
	StateUpserted
	StateCleaned
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIgnored:
		return "Ignored"
	case StateFetched:
		return "Fetched"
	case StateTextExtracted:
		return "TextExtracted"
	case StateChunked:
		return "Chunked"
	case StateEmbedded:
		return "Embedded"
	case StateUpserted:
		return "Upserted"
	case StateCleaned:
		return "Cleaned"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result describes the outcome for one document.
type Result struct {
	Bucket  string
	Key     string
	State   State
	Chunks  int
	Records int
	Written int
	// NoOp is set when the document ended early without error
	// (blank text or nothing embeddable).
	NoOp bool
	// CleanupErr holds a failed delete when cleanup is not strict.
	CleanupErr error
}

type IngestorConfig struct {
	KeyPrefix     string
	KeySuffix     string
	Exclude       []string
	Scheme        string
	Namespace     string
	DeleteSource  bool
	StrictCleanup bool
}

type Ingestor struct {
	config    IngestorConfig
	storage   types.ObjectStore
	extractor types.Extractor
	processor *processor.Processor
	batcher   *embedder.Batcher
	writer    *indexer.Writer
	logger    *log.Logger

	// OnProgress is called after every document, successful or not.
	OnProgress func(Result)
}

func NewIngestor(
	config IngestorConfig,
	storage types.ObjectStore,
	extractor types.Extractor,
	proc *processor.Processor,
	batcher *embedder.Batcher,
	writer *indexer.Writer,
	logger *log.Logger,
) *Ingestor {
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{
		config:    config,
		storage:   storage,
		extractor: extractor,
		processor: proc,
		batcher:   batcher,
		writer:    writer,
		logger:    logger,
	}
}

// Eligible reports whether a key should be ingested at all.
func (ing *Ingestor) Eligible(key string) bool {
	if !strings.HasPrefix(key, ing.config.KeyPrefix) {
		return false
	}
	if !strings.HasSuffix(strings.ToLower(key), strings.ToLower(ing.config.KeySuffix)) {
		return false
	}
	for _, pattern := range ing.config.Exclude {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return false
		}
	}
	return true
}

// HandleNotifications ingests each notification in order and stops at the
// first error; later notifications in the batch are not attempted.
func (ing *Ingestor) HandleNotifications(ctx context.Context, notifications []models.Notification) ([]Result, error) {
	results := make([]Result, 0, len(notifications))
	for _, n := range notifications {
		res, err := ing.Ingest(ctx, n)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Ingest processes one document. Failures are returned as-is so the trigger
// can apply its own retry policy; re-running is safe because record ids are
// derived from the source key and chunk index.
func (ing *Ingestor) Ingest(ctx context.Context, n models.Notification) (res Result, err error) {
	res = Result{Bucket: n.Bucket, Key: n.Key, State: StateIgnored}
	defer func() {
		if err != nil {
			ing.logger.Printf("ingest %s/%s: failed after %s: %v", n.Bucket, n.Key, res.State, err)
			res.State = StateFailed
		}
		if ing.OnProgress != nil {
			ing.OnProgress(res)
		}
	}()

	if !ing.Eligible(n.Key) {
		ing.logger.Printf("ingest %s/%s: ignored, key does not match %s*%s", n.Bucket, n.Key, ing.config.KeyPrefix, ing.config.KeySuffix)
		res.NoOp = true
		return res, nil
	}

	src := models.Source{
		Bucket:    n.Bucket,
		Key:       n.Key,
		Scheme:    ing.config.Scheme,
		Namespace: ing.config.Namespace,
	}

	data, err := ing.storage.Get(ctx, n.Bucket, n.Key)
	if err != nil {
		return res, apperr.Wrap(apperr.KindStorage, "fetch", err)
	}
	res.State = StateFetched
	ing.logger.Printf("ingest %s: fetched %d bytes", src.URL(), len(data))

	text, err := ing.extractor.Extract(ctx, n.Key, data)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, "extract", err)
	}
	res.State = StateTextExtracted
	if strings.TrimSpace(text) == "" {
		ing.logger.Printf("ingest %s: no extractable text, skipping", src.URL())
		res.NoOp = true
		return res, nil
	}

	chunks, err := ing.processor.Process(text)
	if err != nil {
		return res, err
	}
	res.State = StateChunked
	res.Chunks = len(chunks)

	records, err := ing.batcher.EmbedAll(ctx, chunks, src.IDPrefix(), src)
	if err != nil {
		return res, err
	}
	res.State = StateEmbedded
	res.Records = len(records)
	if len(records) == 0 {
		ing.logger.Printf("ingest %s: %d chunks but nothing to embed, skipping", src.URL(), len(chunks))
		res.NoOp = true
		return res, nil
	}

	written, err := ing.writer.Upsert(ctx, records)
	res.Written = written
	if err != nil {
		return res, err
	}
	res.State = StateUpserted
	ing.logger.Printf("ingest %s: upserted %d records from %d chunks", src.URL(), written, len(chunks))

	if !ing.config.DeleteSource {
		return res, nil
	}

	if err := ing.storage.Delete(ctx, n.Bucket, n.Key); err != nil {
		if ing.config.StrictCleanup {
			return res, apperr.Wrap(apperr.KindStorage, "cleanup", err)
		}
		ing.logger.Printf("ingest %s: warning: indexed but failed to delete source: %v", src.URL(), err)
		res.CleanupErr = err
		return res, nil
	}
	res.State = StateCleaned

	return res, nil
}
