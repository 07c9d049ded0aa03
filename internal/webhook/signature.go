package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes hex(HMAC-SHA256(secret, payload)) per spec.md §4.4. payload
// must already be the canonical, final byte representation that will be
// sent on the wire — json.Marshal on Payload produces the same field order
// on every call, which is all the "canonical" guarantee requires here.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature performs a constant-time comparison, per spec.md §4.4's
// "comparison on the receiver side is constant-time" contract. Provided for
// subscriber-side implementations and tests; the dispatcher itself only signs.
func verifySignature(payload []byte, signature, secret string) bool {
	expected := sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
