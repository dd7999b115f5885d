package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"donation-gateway/internal/adapter/http/middleware"
	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/internal/core/ports/mocks"
	"donation-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAPIKey = "test-api-key"

type testDeps struct {
	invoices *mocks.MockInvoiceService
	webhooks *mocks.MockWebhookIngestor
	admin    *mocks.MockAdminService
	tokens   *mocks.MockTokenService
	router   *gin.Engine
}

func newTestRouter(t *testing.T) *testDeps {
	t.Helper()
	ctrl := gomock.NewController(t)
	d := &testDeps{
		invoices: mocks.NewMockInvoiceService(ctrl),
		webhooks: mocks.NewMockWebhookIngestor(ctrl),
		admin:    mocks.NewMockAdminService(ctrl),
		tokens:   mocks.NewMockTokenService(ctrl),
	}
	d.router = SetupRouter(RouterDeps{
		Invoices:   d.invoices,
		Webhooks:   d.webhooks,
		Admin:      d.admin,
		SigSvc:     mocks.NewMockSignatureService(ctrl),
		NonceStore: mocks.NewMockNonceStore(ctrl),
		TokenSvc:   d.tokens,
		ClientAuth: middleware.ClientAuthConfig{APIKeys: []string{testAPIKey}},
		Mode:       gin.TestMode,
		Version:    "test",
		Logger:     zerolog.Nop(),
	})
	return d
}

func (d *testDeps) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sampleDonation(status domain.DonationStatus) *domain.Donation {
	return &domain.Donation{
		ID:           uuid.New(),
		InvoiceID:    "INV-ABC",
		Chain:        "bitcoin",
		Token:        "BTC",
		AmountCrypto: decimal.RequireFromString("0.0015"),
		AmountUSD:    decimal.NewFromInt(100),
		ToAddress:    "bc1qtest",
		QRPayload:    "bc1qtest",
		Status:       status,
		Earmark:      "general",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

const createBody = `{"invoice_id":"INV-ABC","chain":"Bitcoin","token":"btc","amount_crypto":"0.0015","amount_usd":"100.00"}`

// --- Donations ---

func TestCreateDonation_Created(t *testing.T) {
	d := newTestRouter(t)
	don := sampleDonation(domain.DonationStatusCreated)

	d.invoices.EXPECT().CreateInvoice(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.CreateInvoiceRequest) (*domain.Donation, bool, error) {
			assert.Equal(t, "bitcoin", req.Chain)
			assert.Equal(t, "BTC", req.Token)
			assert.True(t, req.AmountUSD.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, domain.SourceAPI, req.Source)
			assert.Nil(t, req.ToAddress)
			return don, true, nil
		})
	d.invoices.EXPECT().QRDataURI(gomock.Any(), "bc1qtest").Return("data:image/png;base64,AAAA", nil)

	w := d.do(http.MethodPost, "/v1/donations", createBody, map[string]string{middleware.HeaderAPIKey: testAPIKey})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "INV-ABC", data["invoice_id"])
	assert.Equal(t, "CREATED", data["status"])
	assert.Equal(t, "data:image/png;base64,AAAA", data["qr_url"])
	assert.Equal(t, "100.00", data["amount_usd"])
}

func TestCreateDonation_ReplayIs200(t *testing.T) {
	d := newTestRouter(t)
	d.invoices.EXPECT().CreateInvoice(gomock.Any(), gomock.Any()).
		Return(sampleDonation(domain.DonationStatusAwaitingConfirmation), false, nil)
	d.invoices.EXPECT().QRDataURI(gomock.Any(), gomock.Any()).Return("data:image/png;base64,AAAA", nil)

	w := d.do(http.MethodPost, "/v1/donations", createBody, map[string]string{middleware.HeaderAPIKey: testAPIKey})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateDonation_RequiresAuth(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodPost, "/v1/donations", createBody, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_001", decode(t, w)["error_code"])
}

func TestCreateDonation_ValidationErrors(t *testing.T) {
	bodies := map[string]string{
		"empty":           `{}`,
		"bad decimal":     `{"chain":"bitcoin","token":"BTC","amount_crypto":"lots","amount_usd":"100"}`,
		"bad usd decimal": `{"chain":"bitcoin","token":"BTC","amount_crypto":"1","amount_usd":"abc"}`,
		"bad token":       `{"chain":"bitcoin","token":"B!","amount_crypto":"1","amount_usd":"100"}`,
		"not json":        `chain=bitcoin`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			d := newTestRouter(t)
			w := d.do(http.MethodPost, "/v1/donations", body, map[string]string{middleware.HeaderAPIKey: testAPIKey})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VAL_001", decode(t, w)["error_code"])
		})
	}
}

func TestCreateDonation_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"unsupported", apperror.ErrUnsupportedAsset("bitcoin", "ETH"), http.StatusBadRequest, "VAL_002", ""},
		{"pool empty", apperror.ErrNoAddressAvailable("solana"), http.StatusServiceUnavailable, "ALLOC_001", "30"},
		{"address held", apperror.ErrAddressInUse(), http.StatusConflict, "DON_002", ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SYS_000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestRouter(t)
			d.invoices.EXPECT().CreateInvoice(gomock.Any(), gomock.Any()).Return(nil, false, tt.err)

			w := d.do(http.MethodPost, "/v1/donations", createBody, map[string]string{middleware.HeaderAPIKey: testAPIKey})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error_code"])
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
		})
	}
}

func TestGetDonation(t *testing.T) {
	d := newTestRouter(t)
	don := sampleDonation(domain.DonationStatusSettled)
	d.invoices.EXPECT().GetInvoice(gomock.Any(), "INV-ABC").Return(don, nil)

	w := d.do(http.MethodGet, "/v1/donations/INV-ABC", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "SETTLED", data["status"])
	assert.NotContains(t, data, "qr_url", "no QR for settled donations")
}

func TestGetDonation_NotFound(t *testing.T) {
	d := newTestRouter(t)
	d.invoices.EXPECT().GetInvoice(gomock.Any(), "INV-NOPE").Return(nil, apperror.ErrNotFound("Donation"))

	w := d.do(http.MethodGet, "/v1/donations/INV-NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DON_001", decode(t, w)["error_code"])
}

func TestGetDonationByTxid(t *testing.T) {
	d := newTestRouter(t)
	don := sampleDonation(domain.DonationStatusConfirmed)
	txid := "0xfeed"
	don.Txid = &txid
	d.invoices.EXPECT().GetByTxid(gomock.Any(), "0xfeed").Return(don, nil)

	w := d.do(http.MethodGet, "/v1/donations/tx/0xfeed", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0xfeed", decode(t, w)["data"].(map[string]interface{})["txid"])
}

// --- Webhooks ---

func TestWebhook_PassesRawBody(t *testing.T) {
	d := newTestRouter(t)
	raw := `{"payment_status":"confirming",  "order_id":"INV-ABC"}`
	eventID := uuid.New()

	d.webhooks.EXPECT().Ingest(gomock.Any(), "nowpayments", []byte(raw), gomock.Any()).DoAndReturn(
		func(ctx context.Context, provider string, body []byte, header http.Header) (*ports.IngestResult, error) {
			assert.Equal(t, "sig", header.Get("X-Nowpayments-Sig"))
			return &ports.IngestResult{Event: &domain.WebhookEvent{ID: eventID}}, nil
		})

	w := d.do(http.MethodPost, "/v1/webhooks/nowpayments", raw, map[string]string{"X-Nowpayments-Sig": "sig"})
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, eventID.String(), data["event_id"])
	assert.Equal(t, false, data["duplicate"])
}

func TestWebhook_Duplicate(t *testing.T) {
	d := newTestRouter(t)
	d.webhooks.EXPECT().Ingest(gomock.Any(), "generic", gomock.Any(), gomock.Any()).
		Return(&ports.IngestResult{Event: &domain.WebhookEvent{ID: uuid.New()}, Duplicate: true}, nil)

	w := d.do(http.MethodPost, "/v1/webhooks/generic", `{}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]interface{})["duplicate"])
}

func TestWebhook_BadSignature(t *testing.T) {
	d := newTestRouter(t)
	d.webhooks.EXPECT().Ingest(gomock.Any(), "generic", gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrInvalidSignature())

	w := d.do(http.MethodPost, "/v1/webhooks/generic", `{"tampered":true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_002", decode(t, w)["error_code"])
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := SetupRouter(RouterDeps{
		Invoices:     mocks.NewMockInvoiceService(ctrl),
		Webhooks:     mocks.NewMockWebhookIngestor(ctrl),
		Admin:        mocks.NewMockAdminService(ctrl),
		TokenSvc:     mocks.NewMockTokenService(ctrl),
		MaxBodyBytes: 32,
		Mode:         gin.TestMode,
		Logger:       zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/generic", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// --- Admin ---

func operatorHeader(d *testDeps) map[string]string {
	d.tokens.EXPECT().Validate("op-token").Return(&ports.TokenClaims{Subject: "admin", Role: "operator"}, nil).AnyTimes()
	return map[string]string{"Authorization": "Bearer op-token"}
}

func TestAdminLogin(t *testing.T) {
	d := newTestRouter(t)
	expiry := time.Now().Add(8 * time.Hour)
	d.admin.EXPECT().Login(gomock.Any(), "admin", "hunter22").
		Return(&ports.LoginResponse{Token: "jwt", ExpiresAt: expiry}, nil)

	w := d.do(http.MethodPost, "/v1/admin/login", `{"username":"admin","password":"hunter22"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "jwt", data["token"])
	assert.Equal(t, float64(expiry.Unix()), data["expiry"])
}

func TestAdminLogin_BadCredentials(t *testing.T) {
	d := newTestRouter(t)
	d.admin.EXPECT().Login(gomock.Any(), "admin", "wrong").Return(nil, apperror.ErrInvalidCredentials())

	w := d.do(http.MethodPost, "/v1/admin/login", `{"username":"admin","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", decode(t, w)["error_code"])
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodGet, "/v1/admin/dead-letters", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_003", decode(t, w)["error_code"])
}

func TestAdminDeadLetters(t *testing.T) {
	d := newTestRouter(t)
	h := operatorHeader(d)
	d.admin.EXPECT().ListDeadLetters(gomock.Any(), 10).Return([]domain.DeadLetter{
		{ID: uuid.New(), Stage: domain.StageSweep, Attempts: 5, Kind: domain.DeadLetterExhausted},
	}, nil)

	w := d.do(http.MethodGet, "/v1/admin/dead-letters?limit=10", "", h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["data"].(map[string]interface{})["count"])

	w = d.do(http.MethodGet, "/v1/admin/dead-letters?limit=ten", "", h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminDecideCompliance(t *testing.T) {
	d := newTestRouter(t)
	h := operatorHeader(d)
	d.admin.EXPECT().DecideCompliance(gomock.Any(), "INV-ABC", true).
		Return(sampleDonation(domain.DonationStatusComplianceApproved), nil)

	w := d.do(http.MethodPost, "/v1/admin/donations/INV-ABC/compliance", `{"approve":true}`, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLIANCE_APPROVED", decode(t, w)["data"].(map[string]interface{})["status"])

	// approve must be present; false is a valid value
	w = d.do(http.MethodPost, "/v1/admin/donations/INV-ABC/compliance", `{}`, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminDecideCompliance_NotUnderReview(t *testing.T) {
	d := newTestRouter(t)
	h := operatorHeader(d)
	d.admin.EXPECT().DecideCompliance(gomock.Any(), "INV-ABC", false).
		Return(nil, apperror.ErrInvalidState("donation is not awaiting review"))

	w := d.do(http.MethodPost, "/v1/admin/donations/INV-ABC/compliance", `{"approve":false}`, h)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DON_003", decode(t, w)["error_code"])
}

func TestAdminWallets(t *testing.T) {
	d := newTestRouter(t)
	h := operatorHeader(d)
	d.admin.EXPECT().ListWallets(gomock.Any(), "solana").Return([]domain.WalletAddress{{Address: "So1", Chain: "solana", Active: true}}, nil)
	d.admin.EXPECT().AddWallet(gomock.Any(), "solana", "So2").Return(&domain.WalletAddress{Address: "So2", Chain: "solana", Active: true}, nil)

	w := d.do(http.MethodGet, "/v1/admin/wallets?chain=solana", "", h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["data"].(map[string]interface{})["count"])

	w = d.do(http.MethodGet, "/v1/admin/wallets", "", h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = d.do(http.MethodPost, "/v1/admin/wallets", `{"chain":"solana","address":"So2"}`, h)
	assert.Equal(t, http.StatusCreated, w.Code)
}

// --- Health & info ---

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Ping(ctx context.Context) error { return s.err }
func (s stubChecker) Name() string                   { return s.name }

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck(stubChecker{name: "postgresql"}, stubChecker{name: "redis"}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck(stubChecker{name: "postgresql"}, stubChecker{name: "redis", err: errors.New("dial tcp: refused")}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "degraded", resp["status"])
	redis := resp["dependencies"].(map[string]interface{})["redis"].(map[string]interface{})
	assert.Equal(t, "unhealthy", redis["status"])
}

func TestInfo(t *testing.T) {
	d := newTestRouter(t)
	d.invoices.EXPECT().SupportedChains().Return([]domain.ChainPolicy{
		{Name: "bitcoin", Tokens: []string{"BTC"}, RequiredConfirmations: 3},
		{Name: "stellar", Tokens: []string{"XLM"}, RequiredConfirmations: 1, MemoRequired: true},
	})

	w := d.do(http.MethodGet, "/v1/info", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "donation-gateway", data["service"])
	assert.Equal(t, "test", data["version"])
	assert.Len(t, data["chains"], 2)
}
