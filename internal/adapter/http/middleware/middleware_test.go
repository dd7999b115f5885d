package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"donation-gateway/internal/core/ports"
	"donation-gateway/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAuthConfig = ClientAuthConfig{
	APIKeys:      []string{"key-one", "key-two"},
	ClientID:     "wix",
	ClientSecret: "client-secret",
}

func clientAuthRouter(sigSvc ports.SignatureService, nonces ports.NonceStore) *gin.Engine {
	router := gin.New()
	router.POST("/v1/donations", ClientAuth(testAuthConfig, sigSvc, nonces, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": c.GetString(CtxAuthMode)})
	})
	return router
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

func TestClientAuth_APIKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := clientAuthRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/v1/donations", nil)
	req.Header.Set(HeaderAPIKey, "key-two")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_key")
}

func TestClientAuth_WrongAPIKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := clientAuthRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/v1/donations", nil)
	req.Header.Set(HeaderAPIKey, "key-three")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_001", errorCode(t, w))
}

func TestClientAuth_MissingCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := clientAuthRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/donations", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_001", errorCode(t, w))
}

func signedRequest(ts int64, nonce, sig, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/donations", bytes.NewBufferString(body))
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	return req
}

func TestClientAuth_ExpiredTimestamp(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := clientAuthRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(time.Now().Add(-2*time.Minute).Unix(), "n1", "sig", "{}"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_003", errorCode(t, w))
}

func TestClientAuth_NonceReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	nonces := mocks.NewMockNonceStore(ctrl)
	nonces.EXPECT().CheckAndSet(gomock.Any(), "wix", "n1", nonceTTL).Return(false, nil)
	router := clientAuthRouter(mocks.NewMockSignatureService(ctrl), nonces)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(time.Now().Unix(), "n1", "sig", "{}"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_004", errorCode(t, w))
}

func TestClientAuth_HMAC(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonces := mocks.NewMockNonceStore(ctrl)

	now := time.Now().Unix()
	body := `{"chain":"bitcoin"}`
	nonces.EXPECT().CheckAndSet(gomock.Any(), "wix", "n-ok", nonceTTL).Return(true, nil)
	sigSvc.EXPECT().BuildCanonicalString("POST", "/v1/donations", now, "n-ok", body).Return("canonical")
	sigSvc.EXPECT().Verify("client-secret", "canonical", "good").Return(true)

	w := httptest.NewRecorder()
	clientAuthRouter(sigSvc, nonces).ServeHTTP(w, signedRequest(now, "n-ok", "good", body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hmac")
}

func TestClientAuth_BadSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonces := mocks.NewMockNonceStore(ctrl)

	now := time.Now().Unix()
	nonces.EXPECT().CheckAndSet(gomock.Any(), "wix", "n2", nonceTTL).Return(true, nil)
	sigSvc.EXPECT().BuildCanonicalString("POST", "/v1/donations", now, "n2", "{}").Return("canonical")
	sigSvc.EXPECT().Verify("client-secret", "canonical", "forged").Return(false)

	w := httptest.NewRecorder()
	clientAuthRouter(sigSvc, nonces).ServeHTTP(w, signedRequest(now, "n2", "forged", "{}"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_002", errorCode(t, w))
}

func jwtRouter(tokenSvc ports.TokenService, captured *string) *gin.Engine {
	router := gin.New()
	router.GET("/v1/admin/wallets", JWTAuth(tokenSvc, "operator", zerolog.Nop()), func(c *gin.Context) {
		*captured = c.GetString(CtxOperator)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	var op string

	w := httptest.NewRecorder()
	jwtRouter(mocks.NewMockTokenService(ctrl), &op).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/wallets", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_003", errorCode(t, w))
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("bad_token").Return(nil, assert.AnError)
	var op string

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/wallets", nil)
	req.Header.Set("Authorization", "Bearer bad_token")
	w := httptest.NewRecorder()
	jwtRouter(tokenSvc, &op).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_WrongRole(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("donor_token").Return(&ports.TokenClaims{Subject: "alice", Role: "viewer"}, nil)
	var op string

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/wallets", nil)
	req.Header.Set("Authorization", "Bearer donor_token")
	w := httptest.NewRecorder()
	jwtRouter(tokenSvc, &op).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, op)
}

func TestJWTAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{Subject: "admin", Role: "operator"}, nil)
	var op string

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/wallets", nil)
	req.Header.Set("Authorization", "Bearer good_token")
	w := httptest.NewRecorder()
	jwtRouter(tokenSvc, &op).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", op)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestID))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Body.String(), 36)
}

func TestRecovery_PanicRecovered(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(zerolog.Nop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("something went wrong")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SYS_001", errorCode(t, w))
}
