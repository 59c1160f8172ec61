package tokenizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmelo/metergate/internal/domain"
	"github.com/nmelo/metergate/internal/tokenizer"
)

func TestEstimator_EstimateInput(t *testing.T) {
	t.Run("should use the character heuristic for unknown models", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()

		// 11 characters, ceil(11/4) = 3.
		tokens := estimator.EstimateInput("claude-3-5-haiku-20241022", []domain.Message{
			{Role: "user", Content: "Hello world"},
		})

		require.Equal(t, 3, tokens)
	})

	t.Run("should join multiple messages with a space in the heuristic", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()

		// "Hello" + " " + "world" = 11 characters, ceil(11/4) = 3.
		tokens := estimator.EstimateInput("claude-3-5-haiku-20241022", []domain.Message{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "world"},
		})

		require.Equal(t, 3, tokens)
	})

	t.Run("should return zero for empty messages", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()

		tokens := estimator.EstimateInput("claude-3-5-haiku-20241022", nil)

		require.Zero(t, tokens)
	})

	t.Run("should be deterministic for identical input", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()
		messages := []domain.Message{
			{Role: "user", Content: strings.Repeat("lorem ipsum ", 50)},
		}

		first := estimator.EstimateInput("gpt-4o-mini", messages)
		for i := 0; i < 5; i++ {
			require.Equal(t, first, estimator.EstimateInput("gpt-4o-mini", messages))
		}
	})

	t.Run("should count more tokens for longer content", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()

		short := estimator.EstimateInput("gpt-4o-mini", []domain.Message{
			{Role: "user", Content: "Hi"},
		})
		long := estimator.EstimateInput("gpt-4o-mini", []domain.Message{
			{Role: "user", Content: strings.Repeat("a much longer message ", 20)},
		})

		require.Greater(t, long, short)
	})
}

func TestEstimator_EstimateOutput(t *testing.T) {
	t.Run("should assume output is half the input rounded up", func(t *testing.T) {
		estimator := tokenizer.NewEstimator()

		cases := []struct {
			input    int
			expected int
		}{
			{input: 0, expected: 0},
			{input: 1, expected: 1},
			{input: 2, expected: 1},
			{input: 40, expected: 20},
			{input: 41, expected: 21},
		}
		for _, tc := range cases {
			require.Equal(t, tc.expected, estimator.EstimateOutput(tc.input),
				"input %d", tc.input)
		}
	})
}
