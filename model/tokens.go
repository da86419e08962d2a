package model

import (
	"log/slog"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// TokenCounter measures and truncates text in model tokens.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// EstimateCounter assumes four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

func (EstimateCounter) Truncate(text string, maxTokens int) string {
	limit := maxTokens * 4
	if maxTokens <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

// tiktokenCounter loads the BPE ranks lazily and falls back to the estimate
// when they cannot be loaded.
type tiktokenCounter struct {
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter(logger *slog.Logger) TokenCounter {
	return &tiktokenCounter{logger: logger}
}

func (c *tiktokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			c.logger.Warn("tiktoken unavailable, estimating tokens", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

func (c *tiktokenCounter) Count(text string) int {
	enc := c.encoding()
	if enc == nil {
		return EstimateCounter{}.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Truncate(text string, maxTokens int) string {
	enc := c.encoding()
	if enc == nil {
		return EstimateCounter{}.Truncate(text, maxTokens)
	}
	if maxTokens <= 0 {
		return text
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}
