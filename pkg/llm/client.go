// Package llm provides the model client layer: a streaming chunk contract,
// an OpenAI-compatible HTTP implementation that covers every configured
// provider, a scripted mock for offline runs, and a provider registry.
package llm

import (
	"context"
	"strings"
)

// ChunkType identifies the kind of streamed chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeError ChunkType = "error"
)

// Chunk is a streamed piece of a model response.
type Chunk interface {
	chunkType() ChunkType
}

// TextChunk is a piece of response text.
type TextChunk struct {
	Text string
}

// UsageChunk carries token usage, sent once near the end of a stream.
// Estimated marks locally computed numbers used when the provider omits
// usage on streamed responses.
type UsageChunk struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// ErrorChunk carries an in-band error; the stream closes after it.
type ErrorChunk struct {
	Err error
}

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *UsageChunk) chunkType() ChunkType { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// Request is one model invocation.
type Request struct {
	Model       string  // override; empty uses the client default
	System      string  // system prompt, may be empty
	Prompt      string  // user prompt
	Temperature float32 // 0 uses the provider default
	MaxTokens   int     // 0 uses the provider default
	Stream      bool    // stream deltas instead of one final text
}

// Client generates model responses as a chunk stream. The returned channel
// is closed when the response is complete; errors arrive in-band as
// ErrorChunk. Cancel the context to abort generation.
type Client interface {
	Generate(ctx context.Context, req *Request) (<-chan Chunk, error)
	Close() error
}

// Collect drains a chunk stream into the full response text. The last
// in-band error wins; accumulated text is returned alongside it so callers
// can log partial output.
func Collect(ch <-chan Chunk) (string, *UsageChunk, error) {
	return CollectWithCallback(ch, nil)
}

// CollectWithCallback drains a chunk stream, invoking onText for every text
// delta as it arrives.
func CollectWithCallback(ch <-chan Chunk, onText func(delta string)) (string, *UsageChunk, error) {
	var sb strings.Builder
	var usage *UsageChunk
	var err error
	for chunk := range ch {
		switch c := chunk.(type) {
		case *TextChunk:
			sb.WriteString(c.Text)
			if onText != nil {
				onText(c.Text)
			}
		case *UsageChunk:
			usage = c
		case *ErrorChunk:
			err = c.Err
		}
	}
	return sb.String(), usage, err
}
