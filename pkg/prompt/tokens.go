package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts text with the cl100k_base encoding, falling back to
// the character estimate when the encoding cannot be loaded.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return EstimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Counter picks exact or estimated counting.
func Counter(exact bool) func(string) int {
	if exact {
		return CountTokens
	}
	return EstimateTokens
}
