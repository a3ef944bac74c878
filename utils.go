package main

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// generateSignature creates a short hash signature for content, used for
// deduplication and audit correlation
func generateSignature(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)[:16]
}

// generateRequestID returns a unique request identifier
func generateRequestID() string {
	return uuid.NewString()
}
