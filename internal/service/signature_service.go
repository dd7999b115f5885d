package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// HMACSignatureService implements ports.SignatureService.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	return hexMAC(sha256.New, []byte(secretKey), []byte(payload))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// BuildCanonicalString constructs the canonical payload for client request
// signing. Format: METHOD|PATH|TIMESTAMP|NONCE|BODY
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, body)
}

// VerifyBody checks a provider webhook signature over the raw body bytes.
// An optional "sha256=" style prefix on the signature is accepted. Unknown
// algorithms never verify.
func (s *HMACSignatureService) VerifyBody(algorithm, secretKey string, body []byte, signature string) bool {
	var h func() hash.Hash
	switch strings.ToLower(algorithm) {
	case "sha256":
		h = sha256.New
	case "sha512":
		h = sha512.New
	default:
		return false
	}
	if secretKey == "" || signature == "" {
		return false
	}
	sig := strings.ToLower(strings.TrimSpace(signature))
	if i := strings.IndexByte(sig, '='); i >= 0 {
		sig = sig[i+1:]
	}
	expected := hexMAC(h, []byte(secretKey), body)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func hexMAC(h func() hash.Hash, key, data []byte) string {
	mac := hmac.New(h, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
