package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackResponseForUserMessage(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := fallbackResponse("user")
		assert.Contains(t, fallbackSentences, got)
	}
}

func TestFallbackResponseGreeting(t *testing.T) {
	assert.Equal(t, fallbackGreeting, fallbackResponse("assistant"))
	assert.Equal(t, fallbackGreeting, fallbackResponse("system"))
	assert.Equal(t, fallbackGreeting, fallbackResponse(""))
}

func TestFallbackSentenceCount(t *testing.T) {
	assert.Len(t, fallbackSentences, 10)
}
