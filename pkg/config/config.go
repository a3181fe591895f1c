package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Locale      string   `yaml:"locale"`
}

// Temp returns the configured temperature; an explicit 0 is kept.
func (l LLMConfig) Temp() float64 {
	if l.Temperature == nil {
		return 0
	}
	return *l.Temperature
}

type EmbeddingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ProcessorConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
}

// Overlap returns the configured overlap; an explicit 0 is kept.
func (p ProcessorConfig) Overlap() int {
	if p.ChunkOverlap == nil {
		return 0
	}
	return *p.ChunkOverlap
}

type IndexConfig struct {
	Backend   string `yaml:"backend"` // pgvector, bolt or memory
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	BoltPath  string `yaml:"bolt_path"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
	Namespace string `yaml:"namespace"`
}

type StorageConfig struct {
	Root   string `yaml:"root"`
	Scheme string `yaml:"scheme"`
}

type IngestConfig struct {
	KeyPrefix         string   `yaml:"key_prefix"`
	KeySuffix         string   `yaml:"key_suffix"`
	Exclude           []string `yaml:"exclude"`
	DeleteAfterIngest *bool    `yaml:"delete_after_ingest"`
	StrictCleanup     bool     `yaml:"strict_cleanup"`
}

// DeleteSource reports whether ingested documents are removed from storage.
func (i IngestConfig) DeleteSource() bool {
	return i.DeleteAfterIngest == nil || *i.DeleteAfterIngest
}

type QueryConfig struct {
	TopK         int `yaml:"top_k"`
	MaxTopK      int `yaml:"max_top_k"`
	ContextChars int `yaml:"context_chars"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Streaming bool   `yaml:"streaming"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Processor ProcessorConfig `yaml:"processor"`
	Index     IndexConfig     `yaml:"index"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Query     QueryConfig     `yaml:"query"`
	Server    ServerConfig    `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docrag/config.yaml"),
			"/etc/docrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		temperature := 0.2
		config.LLM.Temperature = &temperature
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Locale == "" {
		config.LLM.Locale = "English"
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}
	if config.Embedding.MaxRetries == 0 {
		config.Embedding.MaxRetries = 5
	}
	if config.Embedding.Timeout == 0 {
		config.Embedding.Timeout = 60 * time.Second
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == nil {
		overlap := 200
		config.Processor.ChunkOverlap = &overlap
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "pgvector"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "documents"
	}
	if config.Index.BoltPath == "" {
		config.Index.BoltPath = "docrag.db"
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = 768
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 100
	}

	if config.Storage.Root == "" {
		config.Storage.Root = "data"
	}
	if config.Storage.Scheme == "" {
		config.Storage.Scheme = "file"
	}

	if config.Ingest.KeyPrefix == "" {
		config.Ingest.KeyPrefix = "uploads/"
	}
	if config.Ingest.KeySuffix == "" {
		config.Ingest.KeySuffix = ".pdf"
	}

	if config.Query.TopK == 0 {
		config.Query.TopK = 5
	}
	if config.Query.MaxTopK == 0 {
		config.Query.MaxTopK = 50
	}
	if config.Query.ContextChars == 0 {
		config.Query.ContextChars = 1500
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.URL = dbURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if embURL := os.Getenv("EMBEDDING_BASE_URL"); embURL != "" {
		config.Embedding.BaseURL = embURL
	}
	if root := os.Getenv("DOCRAG_STORAGE_ROOT"); root != "" {
		config.Storage.Root = root
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
