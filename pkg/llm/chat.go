package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/docrag/pkg/apperr"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // "ollama" or "openai"
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	APIKey      string
}

// ChatEngine answers prompts through a langchaingo model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "chat", "temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "chat", "max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	var model llms.Model
	var err error
	switch config.Provider {
	case "", "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "openai":
		if config.APIKey == "" {
			return nil, apperr.New(apperr.KindMissingConfiguration, "chat", "llm.api_key is required for the openai provider")
		}
		opts := []openai.Option{openai.WithModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, apperr.New(apperr.KindInvalidConfiguration, "chat", "unknown llm provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewChatEngine(model, config), nil
}

// NewChatEngine wraps an already constructed model.
func NewChatEngine(model llms.Model, config ChatConfig) *ChatEngine {
	return &ChatEngine{config: config, llm: model}
}

// Complete sends a system and a user message and returns the first choice.
func (ce *ChatEngine) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(systemPrompt, userPrompt), ce.options()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// CompleteStream emits response fragments as the model produces them.
// The channel is closed when generation ends; a failure is sent as the
// last value prefixed with "Error:".
func (ce *ChatEngine) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) <-chan string {
	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		streamed := false
		opts := append(ce.options(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		response, err := ce.llm.GenerateContent(ctx, ce.messages(systemPrompt, userPrompt), opts...)
		if err != nil {
			resultChan <- fmt.Sprintf("Error: %v", err)
			return
		}

		// Some providers ignore the streaming callback.
		if !streamed && response != nil {
			for _, choice := range response.Choices {
				if choice != nil && choice.Content != "" {
					resultChan <- choice.Content
				}
			}
		}
	}()

	return resultChan
}

func (ce *ChatEngine) messages(systemPrompt, userPrompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
}

func (ce *ChatEngine) options() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}
