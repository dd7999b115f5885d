package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// RFC 4231 test case 2.
const (
	rfcKey    = "Jefe"
	rfcData   = "what do ya want for nothing?"
	rfcSHA256 = "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
)

func TestHMACSignatureService_SignKnownVector(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.Equal(t, rfcSHA256, svc.Sign(rfcKey, rfcData))
	assert.True(t, svc.VerifyBody("sha256", rfcKey, []byte(rfcData), rfcSHA256))
}

func TestHMACSignatureService_VerifyCanonicalRequest(t *testing.T) {
	svc := NewHMACSignatureService()
	canonical := svc.BuildCanonicalString("POST", "/v1/donations", 1708092000, "abc123", `{"invoice_id":"INV-1"}`)
	assert.Equal(t, `POST|/v1/donations|1708092000|abc123|{"invoice_id":"INV-1"}`, canonical)

	sig := svc.Sign("site-secret", canonical)
	tests := []struct {
		name    string
		secret  string
		payload string
		sig     string
		want    bool
	}{
		{"valid", "site-secret", canonical, sig, true},
		{"uppercase hex", "site-secret", canonical, strings.ToUpper(sig), true},
		{"wrong secret", "other-secret", canonical, sig, false},
		{"nonce swapped", "site-secret", svc.BuildCanonicalString("POST", "/v1/donations", 1708092000, "abc124", `{"invoice_id":"INV-1"}`), sig, false},
		{"not hex", "site-secret", canonical, "invalidsignature", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Verify(tt.secret, tt.payload, tt.sig))
		})
	}
}

func TestHMACSignatureService_CanonicalEmptyBody(t *testing.T) {
	got := NewHMACSignatureService().BuildCanonicalString("POST", "/v1/donations", 1708092000, "nonce1", "")
	assert.Equal(t, "POST|/v1/donations|1708092000|nonce1|", got)
}

func TestHMACSignatureService_VerifyBody(t *testing.T) {
	svc := NewHMACSignatureService()
	body := []byte(`{"payment_id":42,"payment_status":"finished"}`)

	sha256Sig := svc.Sign("provider-secret", string(body))

	mac := hmac.New(sha512.New, []byte("provider-secret"))
	mac.Write(body)
	sha512Sig := hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		algorithm string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"sha256 valid", "sha256", "provider-secret", body, sha256Sig, true},
		{"sha256 uppercase hex", "sha256", "provider-secret", body, strings.ToUpper(sha256Sig), true},
		{"sha256 prefixed", "sha256", "provider-secret", body, "sha256=" + sha256Sig, true},
		{"sha512 valid", "sha512", "provider-secret", body, sha512Sig, true},
		{"sha512 given sha256 sig", "sha512", "provider-secret", body, sha256Sig, false},
		{"tampered body", "sha256", "provider-secret", []byte(`{"payment_id":43}`), sha256Sig, false},
		{"wrong secret", "sha256", "other", body, sha256Sig, false},
		{"empty secret", "sha256", "", body, sha256Sig, false},
		{"empty signature", "sha256", "provider-secret", body, "", false},
		{"unknown algorithm", "md5", "provider-secret", body, sha256Sig, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.VerifyBody(tt.algorithm, tt.secret, tt.body, tt.signature))
		})
	}
}
