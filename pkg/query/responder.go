// Package query answers questions from the indexed documents.
package query

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/apperr"
)

const (
	DefaultTopK         = 5
	DefaultMaxTopK      = 50
	DefaultContextChars = 1500
	DefaultLocale       = "English"
)

// Embedder embeds query text with retries; *embedder.Batcher satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type ResponderConfig struct {
	TopK         int
	MaxTopK      int
	ContextChars int
	Locale       string
	Namespace    string
}

type Request struct {
	Query     string `json:"query"`
	TopK      int    `json:"topK,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

type Response struct {
	Answer  string                  `json:"answer"`
	Matches []models.RetrievalMatch `json:"matches"`
}

// Sources lists the distinct source URLs behind the matches, in rank order.
func (r *Response) Sources() []string {
	var sources []string
	seen := make(map[string]bool)
	for _, m := range r.Matches {
		if m.SourceURL != "" && !seen[m.SourceURL] {
			sources = append(sources, m.SourceURL)
			seen[m.SourceURL] = true
		}
	}
	return sources
}

// Prompt is a fully assembled language-model request.
type Prompt struct {
	System  string
	User    string
	Matches []models.RetrievalMatch
}

type Responder struct {
	config   ResponderConfig
	embedder Embedder
	index    types.VectorIndex
	llm      types.Completer
	logger   *log.Logger
}

func NewResponder(config ResponderConfig, embedder Embedder, index types.VectorIndex, llm types.Completer, logger *log.Logger) (*Responder, error) {
	if embedder == nil || index == nil || llm == nil {
		return nil, apperr.New(apperr.KindMissingConfiguration, "query", "responder requires an embedder, an index and a language model")
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = DefaultMaxTopK
	}
	if config.ContextChars <= 0 {
		config.ContextChars = DefaultContextChars
	}
	if config.Locale == "" {
		config.Locale = DefaultLocale
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Responder{
		config:   config,
		embedder: embedder,
		index:    index,
		llm:      llm,
		logger:   logger,
	}, nil
}

// Answer retrieves context for req.Query and asks the language model.
func (r *Responder) Answer(ctx context.Context, req Request) (*Response, error) {
	prompt, err := r.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Complete(ctx, prompt)
}

// Complete sends a prepared prompt to the language model.
func (r *Responder) Complete(ctx context.Context, prompt *Prompt) (*Response, error) {
	answer, err := r.llm.Complete(ctx, prompt.System, prompt.User)
	if err != nil {
		return nil, classify("complete", err)
	}

	return &Response{Answer: answer, Matches: prompt.Matches}, nil
}

// Prepare runs retrieval and assembles the prompt without calling the
// language model, for callers that stream the completion themselves.
func (r *Responder) Prepare(ctx context.Context, req Request) (*Prompt, error) {
	question := strings.TrimSpace(req.Query)
	if question == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "query", "query must not be empty")
	}
	if req.TopK < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "query", "topK must not be negative")
	}

	topK := req.TopK
	if topK == 0 {
		topK = r.config.TopK
	}
	if topK > r.config.MaxTopK {
		topK = r.config.MaxTopK
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = r.config.Namespace
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, apperr.New(apperr.KindPermanentProvider, "embed", "no embedding returned for query")
	}

	found, err := r.index.Query(ctx, types.QueryRequest{
		Vector:          vectors[0],
		TopK:            topK,
		Namespace:       namespace,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, classify("index query", err)
	}

	matches := make([]models.RetrievalMatch, 0, len(found))
	for _, m := range found {
		rm, ok := m.ToRetrievalMatch()
		if !ok {
			r.logger.Printf("query: dropping match %s without text", m.ID)
			continue
		}
		matches = append(matches, rm)
	}

	return &Prompt{
		System:  SystemPrompt(r.config.Locale),
		User:    UserPrompt(question, BuildContext(matches, r.config.ContextChars)),
		Matches: matches,
	}, nil
}

// SystemPrompt is the fixed instruction given to the language model.
func SystemPrompt(locale string) string {
	return fmt.Sprintf(`You are a helpful assistant answering questions about a collection of documents.
Answer concisely in %s, using only the information in the provided context.
If the context does not contain enough information to answer, say that you are not sure instead of guessing.`, locale)
}

func UserPrompt(question, contextBlock string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question)
}

// BuildContext renders matches as "[#rank] (score=value)\n<text>" entries
// separated by blank lines. Text is truncated to limit characters.
func BuildContext(matches []models.RetrievalMatch, limit int) string {
	entries := make([]string, len(matches))
	for i, m := range matches {
		entries[i] = fmt.Sprintf("[#%d] (score=%.3f)\n%s", i+1, m.Score, truncate(m.Text, limit))
	}
	return strings.Join(entries, "\n\n")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// classify keeps an existing classification and treats anything else from
// a remote collaborator as a permanent provider failure.
func classify(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Wrap(apperr.KindPermanentProvider, op, err)
}
