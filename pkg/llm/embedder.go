package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xhad/docrag/pkg/apperr"
)

// EmbedderConfig configures an OpenAI-compatible embeddings endpoint.
// Ollama exposes one at <ollama>/v1.
type EmbedderConfig struct {
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// Embedder calls the /embeddings endpoint and reports HTTP failures as
// apperr.ProviderError so callers can decide whether to retry.
type Embedder struct {
	Config EmbedderConfig
	client *openai.Client
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		return nil, apperr.New(apperr.KindMissingConfiguration, "embedder", "embedding model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434/v1" // Default Ollama URL
	}
	if config.APIKey == "" {
		config.APIKey = "ollama"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Embedder{
		Config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// CreateEmbedding returns one vector per text, in input order.
func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.Config.Model),
		Dimensions: e.Config.Dimensions,
	})
	if err != nil {
		return nil, classify(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", data.Index, len(texts))
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	return embeddings, nil
}

// classify extracts the HTTP status from go-openai errors.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &apperr.ProviderError{Provider: "embeddings", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &apperr.ProviderError{Provider: "embeddings", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("embeddings request failed: %w", err)
}
