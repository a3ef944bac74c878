package main

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// countTokens estimates the token count of text for a model. Non-OpenAI
// tokenizers are approximated with cl100k_base; on encoder failure a
// words*4/3 heuristic is used so callers always get a usable number.
func countTokens(text, model string) int {
	if text == "" {
		return 0
	}

	tokenizerOnce.Do(func() {
		var err error
		tokenizer, err = tiktoken.EncodingForModel(model)
		if err != nil {
			tokenizer, _ = tiktoken.GetEncoding("cl100k_base")
		}
	})

	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}

	words := len(strings.Fields(text))
	return words * 4 / 3
}
