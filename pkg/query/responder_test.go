package query_test

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
	"github.com/xhad/docrag/pkg/apperr"
	"github.com/xhad/docrag/pkg/query"
	"github.com/xhad/docrag/pkg/store"
)

type fakeEmbedder struct {
	calls  int
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vector}, nil
}

type fakeCompleter struct {
	calls  int
	system string
	user   string
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	if f.err != nil {
		return "", f.err
	}
	return "It is 42.", nil
}

func record(id string, vector []float32, text string, index int) models.EmbeddingRecord {
	meta := map[string]any{
		models.MetaFilename:   "guide.pdf",
		models.MetaChunkIndex: index,
		models.MetaSourceURL:  "s3://docs/uploads/guide.pdf",
	}
	if text != "" {
		meta[models.MetaText] = text
	}
	return models.EmbeddingRecord{ID: id, Vector: vector, Metadata: meta}
}

func newResponder(t *testing.T, config query.ResponderConfig) (*query.Responder, *fakeEmbedder, *fakeCompleter) {
	t.Helper()

	index := store.NewMemory(2)
	require.NoError(t, index.Upsert(context.Background(), []models.EmbeddingRecord{
		record("a_0", []float32{1, 0}, "The answer is 42.", 0),
		record("a_1", []float32{0.9, 0.1}, "", 1),
		record("a_2", []float32{0.5, 0.5}, "Unrelated passage.", 2),
		record("a_3", []float32{0, 1}, "Far away.", 3),
	}))

	emb := &fakeEmbedder{vector: []float32{1, 0}}
	llm := &fakeCompleter{}
	r, err := query.NewResponder(config, emb, index, llm, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return r, emb, llm
}

func TestAnswer(t *testing.T) {
	r, emb, llm := newResponder(t, query.ResponderConfig{Locale: "French"})

	resp, err := r.Answer(context.Background(), query.Request{Query: "  what is the answer?  ", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, "It is 42.", resp.Answer)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, llm.calls)

	// a_1 has no text and is dropped, leaving two of the top three.
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "a_0", resp.Matches[0].ID)
	assert.Equal(t, "a_2", resp.Matches[1].ID)
	assert.Equal(t, 2, resp.Matches[1].ChunkIndex)
	assert.Equal(t, []string{"s3://docs/uploads/guide.pdf"}, resp.Sources())

	assert.Contains(t, llm.system, "French")
	assert.Contains(t, llm.system, "not sure")
	assert.True(t, strings.HasPrefix(llm.user, "Context:\n[#1] (score=1.000)\nThe answer is 42.\n\n[#2] (score="))
	assert.True(t, strings.HasSuffix(llm.user, "Question: what is the answer?"))
}

func TestAnswer_EmptyQuery(t *testing.T) {
	r, emb, llm := newResponder(t, query.ResponderConfig{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := r.Answer(context.Background(), query.Request{Query: q})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
	}
	assert.Zero(t, emb.calls)
	assert.Zero(t, llm.calls)
}

func TestAnswer_TopK(t *testing.T) {
	r, _, _ := newResponder(t, query.ResponderConfig{TopK: 1, MaxTopK: 2})

	resp, err := r.Answer(context.Background(), query.Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, resp.Matches, 1)

	resp, err = r.Answer(context.Background(), query.Request{Query: "q", TopK: 100})
	require.NoError(t, err)
	// Clamped to 2; the second hit has no text.
	assert.Len(t, resp.Matches, 1)

	_, err = r.Answer(context.Background(), query.Request{Query: "q", TopK: -1})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestAnswer_ProviderErrors(t *testing.T) {
	r, emb, llm := newResponder(t, query.ResponderConfig{})

	emb.err = apperr.Wrap(apperr.KindTransientProvider, "embed", errors.New("429"))
	_, err := r.Answer(context.Background(), query.Request{Query: "q"})
	assert.True(t, apperr.Is(err, apperr.KindTransientProvider))
	assert.Zero(t, llm.calls)

	emb.err = nil
	llm.err = errors.New("model not found")
	_, err = r.Answer(context.Background(), query.Request{Query: "q"})
	assert.True(t, apperr.Is(err, apperr.KindPermanentProvider))
}

func TestAnswer_DimensionMismatch(t *testing.T) {
	r, emb, _ := newResponder(t, query.ResponderConfig{})
	emb.vector = []float32{1, 0, 0}

	_, err := r.Answer(context.Background(), query.Request{Query: "q"})
	assert.True(t, apperr.Is(err, apperr.KindPermanentProvider))
}

func TestNewResponderRequiresCollaborators(t *testing.T) {
	_, err := query.NewResponder(query.ResponderConfig{}, nil, store.NewMemory(2), &fakeCompleter{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindMissingConfiguration))
}

func TestBuildContext(t *testing.T) {
	long := strings.Repeat("é", 2000)
	out := query.BuildContext([]models.RetrievalMatch{
		{Score: 0.91234, Text: "first"},
		{Score: 0.5, Text: long},
	}, 1500)

	parts := strings.Split(out, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "[#1] (score=0.912)\nfirst", parts[0])
	assert.Equal(t, "[#2] (score=0.500)\n"+strings.Repeat("é", 1500), parts[1])

	assert.Empty(t, query.BuildContext(nil, 1500))
}
