package main

import (
	"math/rand"
	"strings"
)

// fallbackGreeting is returned when the conversation does not end with a
// user message.
const fallbackGreeting = "Hello! How can I help you today?"

// fallbackSentences are the canned replies served when no provider API key
// is configured or the upstream is unreachable.
var fallbackSentences = []string{
	"That's interesting! Tell me more about that.",
	"I understand. How can I help you with that?",
	"Thanks for sharing! What else would you like to discuss?",
	"I see your point. Let me think about that for a moment.",
	"That's a great question! Here's what I think about it.",
	"I appreciate you sharing that with me.",
	"That makes sense. What are your thoughts on this?",
	"Interesting perspective! Have you considered other angles?",
	"I'd love to help you explore that idea further.",
	"That's a fascinating topic! Let me share what I know about it.",
}

// fallbackResponse picks the canned reply for a conversation. The greeting
// is used when the last message is not from the user.
func fallbackResponse(lastRole string) string {
	if lastRole != "user" {
		return fallbackGreeting
	}
	return fallbackSentences[rand.Intn(len(fallbackSentences))]
}

// streamFallback replays a fallback response word by word through the UI
// stream, mimicking upstream token streaming.
func streamFallback(sw *uiStreamWriter, content string) {
	sw.Send(UIStreamChunk{Type: "text-start"})
	for _, word := range strings.Fields(content) {
		// Every word carries a trailing space, the last one included
		if err := sw.SendText(word + " "); err != nil {
			return
		}
	}
	sw.Send(UIStreamChunk{Type: "text-finish"})
	sw.SendFinish(&UIUsage{})
}
