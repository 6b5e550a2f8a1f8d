package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// chunkBufferSize keeps slow consumers from stalling the HTTP read loop for
// short bursts.
const chunkBufferSize = 64

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
// Every supported provider (QWEN, QWEN-VL, GLM, DeepSeek, UI-TARS, OpenAI)
// exposes this surface, so one implementation covers the whole matrix.
type OpenAIClient struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient builds a client for one provider. An empty baseURL targets
// the OpenAI default endpoint.
func NewOpenAIClient(name, apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
		logger: slog.Default().With("component", "llm-client", "provider", name),
	}
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if req == nil || req.Prompt == "" {
		return nil, errors.New("llm: empty request")
	}

	ccr := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Model != "" {
		ccr.Model = req.Model
	}

	ch := make(chan Chunk, chunkBufferSize)
	if !req.Stream {
		go c.complete(ctx, ccr, ch)
		return ch, nil
	}

	ccr.Stream = true
	ccr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := c.client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		return nil, fmt.Errorf("llm %s: open stream: %w", c.name, err)
	}
	go c.pump(stream, ccr, ch)
	return ch, nil
}

func (c *OpenAIClient) complete(ctx context.Context, ccr openai.ChatCompletionRequest, ch chan<- Chunk) {
	defer close(ch)
	resp, err := c.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		ch <- &ErrorChunk{Err: fmt.Errorf("llm %s: %w", c.name, err)}
		return
	}
	if len(resp.Choices) > 0 {
		ch <- &TextChunk{Text: resp.Choices[0].Message.Content}
	}
	ch <- &UsageChunk{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}

func (c *OpenAIClient) pump(stream *openai.ChatCompletionStream, ccr openai.ChatCompletionRequest, ch chan<- Chunk) {
	defer close(ch)
	defer stream.Close()

	var collected int
	var sawUsage bool
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !sawUsage {
				// Some compatible providers never send stream usage.
				prompt := EstimateTokens(ccr.Messages[len(ccr.Messages)-1].Content)
				ch <- &UsageChunk{
					PromptTokens:     prompt,
					CompletionTokens: collected,
					TotalTokens:      prompt + collected,
					Estimated:        true,
				}
			}
			return
		}
		if err != nil {
			ch <- &ErrorChunk{Err: fmt.Errorf("llm %s: stream: %w", c.name, err)}
			return
		}
		if resp.Usage != nil {
			sawUsage = true
			ch <- &UsageChunk{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			collected += EstimateTokens(delta)
			ch <- &TextChunk{Text: delta}
		}
	}
}

// Close implements Client. The underlying HTTP client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

func buildMessages(req *Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return msgs
}
