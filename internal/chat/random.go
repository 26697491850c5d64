package chat

import (
	"crypto/rand"
	"encoding/hex"
)

const envelopeIDBytes = 10

// NewEnvelopeID returns the id stamped on server-originated protocol
// envelopes. Envelope ids exist to correlate frames in logs and acks; they
// carry no ordering, unlike the ULID message and room ids in id.go.
func NewEnvelopeID() string {
	return randomHex(envelopeIDBytes)
}

func randomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		// Empty means the entropy source failed; callers treat it as such.
		return ""
	}
	return hex.EncodeToString(b)
}
