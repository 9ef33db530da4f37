package tracestore

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // used for deterministic derivation, not authentication
	"encoding/hex"
	"fmt"
)

const (
	traceIDBytes = 16 // 32 hex chars
	spanIDBytes  = 8  // 16 hex chars
)

// GenerateTraceID returns a random, W3C-compatible 32-hex-char trace id.
func GenerateTraceID() string {
	return randomHex(traceIDBytes)
}

// GenerateSpanID returns a random, W3C-compatible 16-hex-char span id.
func GenerateSpanID() string {
	return randomHex(spanIDBytes)
}

// DeterministicSpanID derives a stable span id from a trace id and a caller
// supplied seed: the low 8 bytes of SHA1(traceId || seed), hex-encoded. Used
// when a logical span must be stable across retries of the same operation.
func DeterministicSpanID(traceID, seed string) string {
	sum := sha1.Sum([]byte(traceID + seed)) //nolint:gosec

	return hex.EncodeToString(sum[len(sum)-spanIDBytes:])
}

// Traceparent formats the W3C traceparent header value for a span.
func Traceparent(traceID, spanID string) string {
	return fmt.Sprintf("00-%s-%s-01", traceID, spanID)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("tracestore: failed to read random bytes: %v", err))
	}

	return hex.EncodeToString(buf)
}
