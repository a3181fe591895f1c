package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/xhad/docrag/pkg/apperr"
)

type ValidationError struct {
	Field   string
	Message string
	Missing bool
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	invalid := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	missing := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message, Missing: true})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			missing("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			missing("llm.api_key", "api key is required for the openai provider")
		}
	default:
		invalid("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		invalid("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}
	if t := c.LLM.Temp(); t < 0 || t > 2 {
		invalid("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.BaseURL != "" && !isHTTPURL(c.LLM.BaseURL) {
		invalid("llm.base_url", "invalid base URL")
	}

	// Validate embedding config
	if c.Embedding.Model == "" {
		missing("embedding.model", "embedding model is required")
	}
	if !isHTTPURL(c.Embedding.BaseURL) {
		invalid("embedding.base_url", "invalid base URL")
	}
	if c.Embedding.BatchSize < 1 {
		invalid("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.MaxRetries < 1 {
		invalid("embedding.max_retries", "max_retries must be positive")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		invalid("embedding.requests_per_second", "requests_per_second must not be negative")
	}
	if c.Embedding.Dimensions != 0 && c.Embedding.Dimensions != c.Index.VectorDim {
		invalid("embedding.dimensions", "dimensions (%d) must match index.vector_dim (%d)", c.Embedding.Dimensions, c.Index.VectorDim)
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		invalid("processor.chunk_size", "chunk_size must be positive")
	}
	if overlap := c.Processor.Overlap(); overlap < 0 || overlap >= c.Processor.ChunkSize {
		invalid("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate index config
	switch c.Index.Backend {
	case "pgvector":
		if c.Index.URL == "" {
			missing("index.url", "database URL is required for the pgvector backend")
		} else if u, err := url.Parse(c.Index.URL); err != nil || u.Scheme == "" {
			invalid("index.url", "invalid database URL")
		}
	case "bolt":
		if c.Index.BoltPath == "" {
			missing("index.bolt_path", "bolt_path is required for the bolt backend")
		}
	case "memory":
	default:
		invalid("index.backend", "unknown backend %q", c.Index.Backend)
	}
	if c.Index.VectorDim < 1 {
		invalid("index.vector_dim", "vector_dim must be positive")
	}
	if c.Index.BatchSize < 1 {
		invalid("index.batch_size", "batch_size must be positive")
	}

	if c.Storage.Root == "" {
		missing("storage.root", "storage root is required")
	}

	for _, pattern := range c.Ingest.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			invalid("ingest.exclude", "invalid pattern: %s", pattern)
		}
	}
	if c.Ingest.KeySuffix != "" && !strings.HasPrefix(c.Ingest.KeySuffix, ".") {
		invalid("ingest.key_suffix", "invalid extension format: %s", c.Ingest.KeySuffix)
	}

	if c.Query.TopK < 1 || c.Query.TopK > c.Query.MaxTopK {
		invalid("query.top_k", "top_k must be between 1 and max_top_k")
	}
	if c.Query.ContextChars < 1 {
		invalid("query.context_chars", "context_chars must be positive")
	}

	return errors
}

// Check folds Validate into a single error. Any missing setting makes the
// whole result MissingConfiguration.
func (c *Config) Check() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}

	kind := apperr.KindInvalidConfiguration
	messages := make([]string, len(errs))
	for i, e := range errs {
		if e.Missing {
			kind = apperr.KindMissingConfiguration
		}
		messages[i] = e.Error()
	}
	return apperr.New(kind, "config", "%s", strings.Join(messages, "; "))
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
