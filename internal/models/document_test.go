package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xhad/docrag/internal/models"
)

func TestSourceIdentity(t *testing.T) {
	src := models.Source{Bucket: "docs", Key: "uploads/report.pdf", Scheme: "s3"}

	assert.Equal(t, "s3://docs/uploads/report.pdf", src.URL())
	assert.Equal(t, "report.pdf", src.Filename())
	assert.Equal(t, src.IDPrefix(), models.Source{Bucket: "docs", Key: "uploads/report.pdf", Scheme: "s3"}.IDPrefix())
	assert.NotEqual(t, src.IDPrefix(), models.Source{Bucket: "docs", Key: "uploads/other.pdf", Scheme: "s3"}.IDPrefix())
	assert.Equal(t, "abc_7", models.RecordID("abc", 7))
}

func TestToRetrievalMatch(t *testing.T) {
	m := models.IndexMatch{
		ID:    "p_3",
		Score: 0.9,
		Metadata: map[string]any{
			models.MetaText:       "hello",
			models.MetaFilename:   "a.pdf",
			models.MetaSourceURL:  "s3://b/uploads/a.pdf",
			models.MetaChunkIndex: float64(3),
		},
	}

	rm, ok := m.ToRetrievalMatch()
	assert.True(t, ok)
	assert.Equal(t, 3, rm.ChunkIndex)
	assert.Equal(t, "a.pdf", rm.Filename)

	_, ok = models.IndexMatch{ID: "legacy", Metadata: map[string]any{}}.ToRetrievalMatch()
	assert.False(t, ok)
}
