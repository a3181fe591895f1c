package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xhad/docrag/internal/types"
	cfgPkg "github.com/xhad/docrag/pkg/config"
	"github.com/xhad/docrag/pkg/embedder"
	"github.com/xhad/docrag/pkg/extract"
	"github.com/xhad/docrag/pkg/indexer"
	"github.com/xhad/docrag/pkg/ingest"
	"github.com/xhad/docrag/pkg/llm"
	"github.com/xhad/docrag/pkg/objstore"
	"github.com/xhad/docrag/pkg/processor"
	"github.com/xhad/docrag/pkg/query"
	"github.com/xhad/docrag/pkg/store"
)

var (
	configPath string
	ollamaURL  string
	dbURL      string
	backend    string
	model      string
	verbose    bool

	config *cfgPkg.Config
)

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Index uploaded documents and answer questions about them",
	Long: `docrag extracts text from documents dropped into a storage bucket, embeds
it into a vector index and answers questions with retrieval-augmented generation.

Example usage:
  docrag upload docs ./handbook.pdf      # Store and index a document
  docrag watch docs                      # Index everything that lands in uploads/
  docrag ask "What is the refund policy?"
  docrag serve                           # HTTP and websocket API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()

		var err error
		config, err = cfgPkg.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with command line flags if provided
		if ollamaURL != "" {
			config.LLM.BaseURL = ollamaURL
		}
		if dbURL != "" {
			config.Index.URL = dbURL
		}
		if backend != "" {
			config.Index.Backend = backend
		}
		if model != "" {
			config.LLM.Model = model
		}

		return config.Check()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&ollamaURL, "ollama-url", "", "Ollama server URL")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&backend, "index", "", "Vector index backend (pgvector, bolt, memory)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "LLM model to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components every command is built from.
type app struct {
	objects   *objstore.FS
	index     types.VectorIndex
	chat      *llm.ChatEngine
	ingestor  *ingest.Ingestor
	responder *query.Responder
	logger    *log.Logger
}

func newApp(ctx context.Context, cfg *cfgPkg.Config, logger *log.Logger) (*app, error) {
	objects, err := objstore.NewFS(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	batcher := embedder.NewBatcher(provider, embedder.BatcherConfig{
		BatchSize:         cfg.Embedding.BatchSize,
		MaxRetries:        cfg.Embedding.MaxRetries,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.Overlap(),
	})
	if err != nil {
		return nil, err
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temp(),
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	index, err := openIndex(ctx, cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	ingestor := ingest.NewIngestor(ingest.IngestorConfig{
		KeyPrefix:     cfg.Ingest.KeyPrefix,
		KeySuffix:     cfg.Ingest.KeySuffix,
		Exclude:       cfg.Ingest.Exclude,
		Scheme:        cfg.Storage.Scheme,
		Namespace:     cfg.Index.Namespace,
		DeleteSource:  cfg.Ingest.DeleteSource(),
		StrictCleanup: cfg.Ingest.StrictCleanup,
	}, objects, extract.NewRegistry(), proc, batcher, indexer.NewWriter(index, cfg.Index.BatchSize), logger)

	responder, err := query.NewResponder(query.ResponderConfig{
		TopK:         cfg.Query.TopK,
		MaxTopK:      cfg.Query.MaxTopK,
		ContextChars: cfg.Query.ContextChars,
		Locale:       cfg.LLM.Locale,
		Namespace:    cfg.Index.Namespace,
	}, batcher, index, chat, logger)
	if err != nil {
		index.Close()
		return nil, err
	}

	return &app{
		objects:   objects,
		index:     index,
		chat:      chat,
		ingestor:  ingestor,
		responder: responder,
		logger:    logger,
	}, nil
}

func (a *app) Close() {
	a.index.Close()
}

func openIndex(ctx context.Context, cfg cfgPkg.IndexConfig) (types.VectorIndex, error) {
	switch cfg.Backend {
	case "pgvector":
		pg, err := store.NewPGVector(ctx, store.VectorStoreConfig{
			ConnString: cfg.URL,
			TableName:  cfg.TableName,
			VectorDim:  cfg.VectorDim,
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "bolt":
		b, err := store.NewBolt(cfg.BoltPath, cfg.VectorDim)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return store.NewMemory(cfg.VectorDim), nil
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
}
