package models

import (
	"fmt"
	"path"
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys stored alongside every embedding record.
const (
	MetaFilename   = "filename"
	MetaKey        = "key"
	MetaBucket     = "bucket"
	MetaChunkIndex = "chunk_index"
	MetaText       = "text"
	MetaSourceURL  = "source_url"
)

// Document is a source payload fetched from object storage.
type Document struct {
	Bucket string
	Key    string
	Size   int64
	Data   []byte
}

// Notification announces that a document arrived in a bucket.
type Notification struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size,omitempty"`
}

// Source identifies where a set of chunks came from.
type Source struct {
	Bucket    string
	Key       string
	Scheme    string
	Namespace string
}

// URL returns scheme://bucket/key.
func (s Source) URL() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "file"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, s.Bucket, s.Key)
}

// Filename returns the last path element of the key.
func (s Source) Filename() string {
	return path.Base(s.Key)
}

// IDPrefix is stable for a given source URL, so re-ingesting the same key
// overwrites the same records.
func (s Source) IDPrefix() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.URL())).String()
}

// RecordID builds the record id for the chunk at index.
func RecordID(prefix string, index int) string {
	return prefix + "_" + strconv.Itoa(index)
}

// EmbeddingRecord is the unit written to the vector index.
type EmbeddingRecord struct {
	ID        string
	Vector    []float32
	Metadata  map[string]any
	Namespace string
}

// Text returns the chunk text carried in the metadata, if any.
func (r EmbeddingRecord) Text() string {
	s, _ := r.Metadata[MetaText].(string)
	return s
}

// RetrievalMatch is a read-only projection of a query hit.
type RetrievalMatch struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
}

// IndexMatch is what a vector index returns for one neighbour.
type IndexMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// ToRetrievalMatch projects the stored metadata into a citation-friendly match.
// ok is false when the record carries no text.
func (m IndexMatch) ToRetrievalMatch() (RetrievalMatch, bool) {
	text, _ := m.Metadata[MetaText].(string)
	if text == "" {
		return RetrievalMatch{}, false
	}
	filename, _ := m.Metadata[MetaFilename].(string)
	sourceURL, _ := m.Metadata[MetaSourceURL].(string)
	return RetrievalMatch{
		ID:         m.ID,
		Score:      m.Score,
		Text:       text,
		Filename:   filename,
		SourceURL:  sourceURL,
		ChunkIndex: intValue(m.Metadata[MetaChunkIndex]),
	}, true
}

// intValue handles the numeric shapes metadata takes after a JSON round trip.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
