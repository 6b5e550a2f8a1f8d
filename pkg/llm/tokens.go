package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoderMu   sync.Mutex
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with the cl100k_base encoding, a close
// approximation for every provider in the matrix. Falls back to a bytes/4
// heuristic when the encoding cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(text) / 4
	}
	encoderMu.Lock()
	defer encoderMu.Unlock()
	return len(encoder.Encode(text, nil, nil))
}
