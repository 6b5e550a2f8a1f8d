package llm

import (
	"context"
	"strings"
	"sync"
)

// MockRule maps a prompt fragment to a canned response.
type MockRule struct {
	Match    string
	Response string
}

// MockClient is a scripted model client for tests and AI_MOCK_MODE runs.
// The first rule whose Match appears in the prompt wins; without a match the
// fallback response is returned. Streaming responses are split into small
// text chunks to exercise the same paths real providers do.
type MockClient struct {
	mu        sync.Mutex
	rules     []MockRule
	fallback  string
	chunkSize int
	requests  []Request
}

// NewMockClient creates a mock with a benign JSON fallback.
func NewMockClient() *MockClient {
	return &MockClient{
		fallback:  `{"status": "ok"}`,
		chunkSize: 16,
	}
}

// Script appends a rule. Chainable.
func (m *MockClient) Script(match, response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, MockRule{Match: match, Response: response})
	return m
}

// SetFallback replaces the no-match response.
func (m *MockClient) SetFallback(response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// Requests returns a copy of every request seen, for assertions.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	response := m.fallback
	for _, rule := range m.rules {
		if strings.Contains(req.Prompt, rule.Match) || strings.Contains(req.System, rule.Match) {
			response = rule.Response
			break
		}
	}
	size := m.chunkSize
	m.mu.Unlock()

	ch := make(chan Chunk, chunkBufferSize)
	go func() {
		defer close(ch)
		emit := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !req.Stream {
			if !emit(&TextChunk{Text: response}) {
				return
			}
		} else {
			for runes := []rune(response); len(runes) > 0; {
				n := size
				if n > len(runes) {
					n = len(runes)
				}
				if !emit(&TextChunk{Text: string(runes[:n])}) {
					return
				}
				runes = runes[n:]
			}
		}
		emit(&UsageChunk{
			PromptTokens:     EstimateTokens(req.Prompt),
			CompletionTokens: EstimateTokens(response),
			TotalTokens:      EstimateTokens(req.Prompt) + EstimateTokens(response),
			Estimated:        true,
		})
	}()
	return ch, nil
}

// Close implements Client.
func (m *MockClient) Close() error { return nil }
