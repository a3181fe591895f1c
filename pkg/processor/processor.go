package processor

import (
	"unicode/utf8"

	"github.com/xhad/docrag/pkg/apperr"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

// NewWithConfig validates the window up front so a bad configuration fails
// before any document is fetched.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Processor{config: config}, nil
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Process splits extracted text using the configured window.
func (p *Processor) Process(text string) ([]string, error) {
	return Split(sanitizeUTF8(text), p.config.ChunkSize, p.config.ChunkOverlap)
}

// Split cuts text into windows of windowSize characters, each starting
// overlap characters before the end of the previous one. The last window
// always ends at the end of text. Lengths are counted in runes.
func Split(text string, windowSize, overlap int) ([]string, error) {
	if err := validate(windowSize, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= windowSize {
		return []string{text}, nil
	}

	chunks := make([]string, 0, (n-overlap+windowSize-overlap-1)/(windowSize-overlap))
	start := 0
	for {
		end := start + windowSize
		if end > n {
			end = n
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks, nil
}

func validate(windowSize, overlap int) error {
	if windowSize <= 0 {
		return apperr.New(apperr.KindInvalidConfiguration, "chunk", "window size must be positive, got %d", windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return apperr.New(apperr.KindInvalidConfiguration, "chunk",
			"overlap must be non-negative and less than window size (%d), got %d", windowSize, overlap)
	}
	return nil
}

// sanitizeUTF8 drops invalid bytes so rune counting matches what gets stored.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
