// Package tokenizer provides the local, non-authoritative token
// estimate used for pre-flight cost projections. Authoritative counts
// always come from the provider response after execution.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nmelo/metergate/internal/domain"
)

// Estimator estimates token counts for chat messages.
// Uses tiktoken when an encoding is known for the model, otherwise a
// deterministic ceil(len/4) character heuristic.
type Estimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// modelEncoding maps model-name prefixes to tiktoken encoding names.
// Models without an entry fall back to the character heuristic.
var modelEncoding = map[string]string{
	"gpt-4o":  "o200k_base",
	"gpt-4.1": "o200k_base",
	"o1":      "o200k_base",
	"o3":      "o200k_base",
}

func encodingForModel(modelName string) string {
	for prefix, enc := range modelEncoding {
		if strings.HasPrefix(modelName, prefix) {
			return enc
		}
	}
	return ""
}

func (e *Estimator) getEncoding(modelName string) *tiktoken.Tiktoken {
	encName := encodingForModel(modelName)
	if encName == "" {
		return nil
	}

	e.mu.RLock()
	enc, ok := e.encodings[encName]
	e.mu.RUnlock()
	if ok {
		return enc
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if enc, ok := e.encodings[encName]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(encName)
	if err != nil {
		return nil
	}
	e.encodings[encName] = enc
	return enc
}

// EstimateInput approximates the input token count for the messages.
func (e *Estimator) EstimateInput(modelName string, messages []domain.Message) int {
	enc := e.getEncoding(modelName)
	if enc == nil {
		return fallbackCount(messages)
	}

	// Per-message framing overhead, matching the OpenAI chat format.
	tokensPerMessage := 3
	tokens := 0
	for _, msg := range messages {
		tokens += tokensPerMessage
		tokens += len(enc.Encode(msg.Role, nil, nil))
		tokens += len(enc.Encode(msg.Content, nil, nil))
	}
	tokens += 3 // reply priming
	return tokens
}

// EstimateOutput derives an output-token estimate from the input
// estimate. True output length is unknowable before generation; half
// the input is the fixed working assumption.
func (e *Estimator) EstimateOutput(inputTokens int) int {
	return (inputTokens + 1) / 2
}

func fallbackCount(messages []domain.Message) int {
	chars := 0
	for _, msg := range messages {
		if chars > 0 {
			chars++ // joining space between message contents
		}
		chars += len(msg.Content)
	}
	return (chars + 3) / 4
}
