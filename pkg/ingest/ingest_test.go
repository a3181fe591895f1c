package ingest_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
	"github.com/xhad/docrag/pkg/embedder"
	"github.com/xhad/docrag/pkg/extract"
	"github.com/xhad/docrag/pkg/indexer"
	"github.com/xhad/docrag/pkg/ingest"
	"github.com/xhad/docrag/pkg/objstore"
	"github.com/xhad/docrag/pkg/processor"
	"github.com/xhad/docrag/pkg/store"
)

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

type stubExtractor string

func (s stubExtractor) Extract(context.Context, string, []byte) (string, error) {
	return string(s), nil
}

// brokenDelete serves objects but refuses to delete them.
type brokenDelete struct {
	*objstore.FS
}

func (b brokenDelete) Delete(context.Context, string, string) error {
	return errors.New("permission denied")
}

type fixture struct {
	fs       *objstore.FS
	index    *store.Memory
	provider *countingProvider
	ingestor *ingest.Ingestor
	progress []ingest.Result
}

func newFixture(t *testing.T, config ingest.IngestorConfig, extractor types.Extractor, wrap func(*objstore.FS) types.ObjectStore) *fixture {
	t.Helper()

	fs, err := objstore.NewFS(t.TempDir())
	require.NoError(t, err)

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40, ChunkOverlap: 10})
	require.NoError(t, err)

	f := &fixture{
		fs:       fs,
		index:    store.NewMemory(3),
		provider: &countingProvider{},
	}

	var objects types.ObjectStore = fs
	if wrap != nil {
		objects = wrap(fs)
	}
	if extractor == nil {
		extractor = extract.NewRegistry()
	}

	batcher := embedder.NewBatcher(f.provider, embedder.BatcherConfig{BatchSize: 2, MaxRetries: 1})
	f.ingestor = ingest.NewIngestor(config, objects, extractor, proc,
		batcher, indexer.NewWriter(f.index, 3), log.New(io.Discard, "", 0))
	f.ingestor.OnProgress = func(r ingest.Result) { f.progress = append(f.progress, r) }
	return f
}

func textConfig() ingest.IngestorConfig {
	return ingest.IngestorConfig{
		KeyPrefix:    "uploads/",
		KeySuffix:    ".txt",
		Scheme:       "s3",
		DeleteSource: true,
	}
}

const sampleText = "Vector search finds related passages. Chunks overlap so that sentences cut at a boundary still appear whole somewhere."

func TestIngest_FullFlow(t *testing.T) {
	f := newFixture(t, textConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/notes.txt", []byte(sampleText)))

	res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/notes.txt"})
	require.NoError(t, err)

	assert.Equal(t, ingest.StateCleaned, res.State)
	assert.False(t, res.NoOp)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, res.Chunks, res.Written)
	assert.Equal(t, res.Chunks, f.index.Len())

	_, err = f.fs.Get(ctx, "docs", "uploads/notes.txt")
	assert.True(t, apperr.Is(err, apperr.KindStorage), "source should be deleted")

	matches, err := f.index.Query(ctx, types.QueryRequest{Vector: []float32{40, 1, 0}, TopK: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "s3://docs/uploads/notes.txt", matches[0].Metadata[models.MetaSourceURL])
	assert.Equal(t, "notes.txt", matches[0].Metadata[models.MetaFilename])

	require.Len(t, f.progress, 1)
	assert.Equal(t, ingest.StateCleaned, f.progress[0].State)
}

func TestIngest_ReingestOverwrites(t *testing.T) {
	config := textConfig()
	config.DeleteSource = false
	f := newFixture(t, config, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/notes.txt", []byte(sampleText)))

	n := models.Notification{Bucket: "docs", Key: "uploads/notes.txt"}
	first, err := f.ingestor.Ingest(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, ingest.StateUpserted, first.State)

	_, err = f.ingestor.Ingest(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, first.Written, f.index.Len())
}

func TestIngest_IneligibleKeys(t *testing.T) {
	config := textConfig()
	config.Exclude = []string{"uploads/drafts/**"}
	f := newFixture(t, config, nil, nil)

	for _, key := range []string{"other/notes.txt", "uploads/notes.pdf", "uploads/drafts/wip.txt"} {
		res, err := f.ingestor.Ingest(context.Background(), models.Notification{Bucket: "docs", Key: key})
		require.NoError(t, err, key)
		assert.True(t, res.NoOp, key)
		assert.Equal(t, ingest.StateIgnored, res.State, key)
	}
	assert.Zero(t, f.provider.calls)
}

func TestEligible_SuffixIgnoresCase(t *testing.T) {
	config := textConfig()
	config.KeySuffix = ".pdf"
	f := newFixture(t, config, nil, nil)

	assert.True(t, f.ingestor.Eligible("uploads/Report.PDF"))
	assert.False(t, f.ingestor.Eligible("Uploads/report.pdf"))
}

func TestIngest_BlankTextIsNoOp(t *testing.T) {
	f := newFixture(t, textConfig(), stubExtractor("  \n\t "), nil)
	ctx := context.Background()
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/scan.txt", []byte("%binary%")))

	res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/scan.txt"})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, ingest.StateTextExtracted, res.State)
	assert.Zero(t, f.provider.calls)
	assert.Zero(t, f.index.Len())

	// Not indexed, so not deleted either.
	_, err = f.fs.Get(ctx, "docs", "uploads/scan.txt")
	assert.NoError(t, err)
}

func TestIngest_NothingToEmbedIsNoOp(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "only invalid bytes", text: "\xff\xfe"},
		{name: "invalid bytes around whitespace", text: "\xff \n\xfe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, textConfig(), stubExtractor(tt.text), nil)
			ctx := context.Background()
			require.NoError(t, f.fs.Put(ctx, "docs", "uploads/garbled.txt", []byte("garbled")))

			res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/garbled.txt"})
			require.NoError(t, err)
			assert.Equal(t, ingest.StateEmbedded, res.State)
			assert.True(t, res.NoOp)
			assert.Zero(t, res.Records)
			assert.Zero(t, f.provider.calls)
			assert.Zero(t, f.index.Len())

			_, err = f.fs.Get(ctx, "docs", "uploads/garbled.txt")
			assert.NoError(t, err)
		})
	}
}

func TestIngest_MissingObject(t *testing.T) {
	f := newFixture(t, textConfig(), nil, nil)

	res, err := f.ingestor.Ingest(context.Background(), models.Notification{Bucket: "docs", Key: "uploads/gone.txt"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.Equal(t, ingest.StateFailed, res.State)
}

func TestIngest_ProviderFailureLeavesSource(t *testing.T) {
	f := newFixture(t, textConfig(), nil, nil)
	f.provider.err = &apperr.ProviderError{Provider: "test", StatusCode: 400, Err: errors.New("bad input")}
	ctx := context.Background()
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/notes.txt", []byte(sampleText)))

	res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/notes.txt"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPermanentProvider))
	assert.Equal(t, ingest.StateFailed, res.State)
	assert.Zero(t, f.index.Len())

	_, err = f.fs.Get(ctx, "docs", "uploads/notes.txt")
	assert.NoError(t, err)
}

func TestIngest_CleanupFailure(t *testing.T) {
	wrap := func(fs *objstore.FS) types.ObjectStore { return brokenDelete{fs} }

	t.Run("warning", func(t *testing.T) {
		f := newFixture(t, textConfig(), nil, wrap)
		ctx := context.Background()
		require.NoError(t, f.fs.Put(ctx, "docs", "uploads/notes.txt", []byte(sampleText)))

		res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/notes.txt"})
		require.NoError(t, err)
		assert.Equal(t, ingest.StateUpserted, res.State)
		assert.Error(t, res.CleanupErr)
		assert.Equal(t, res.Written, f.index.Len())
	})

	t.Run("strict", func(t *testing.T) {
		config := textConfig()
		config.StrictCleanup = true
		f := newFixture(t, config, nil, wrap)
		ctx := context.Background()
		require.NoError(t, f.fs.Put(ctx, "docs", "uploads/notes.txt", []byte(sampleText)))

		res, err := f.ingestor.Ingest(ctx, models.Notification{Bucket: "docs", Key: "uploads/notes.txt"})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindStorage))
		assert.Equal(t, ingest.StateFailed, res.State)
		// Records stay indexed; a rerun overwrites them.
		assert.Equal(t, res.Written, f.index.Len())
	})
}

func TestHandleNotifications_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, textConfig(), nil, nil)
	ctx := context.Background()
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/a.txt", []byte(sampleText)))
	require.NoError(t, f.fs.Put(ctx, "docs", "uploads/c.txt", []byte(sampleText)))

	results, err := f.ingestor.HandleNotifications(ctx, []models.Notification{
		{Bucket: "docs", Key: "uploads/a.txt"},
		{Bucket: "docs", Key: "uploads/b.txt"},
		{Bucket: "docs", Key: "uploads/c.txt"},
	})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ingest.StateCleaned, results[0].State)
	assert.Equal(t, ingest.StateFailed, results[1].State)

	// c.txt was never attempted.
	_, err = f.fs.Get(ctx, "docs", "uploads/c.txt")
	assert.NoError(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "TextExtracted", ingest.StateTextExtracted.String())
	assert.True(t, strings.HasPrefix(ingest.State(42).String(), "State("))
}
