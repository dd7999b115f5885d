package service

import (
	"context"
	"io"
	"testing"
	"time"

	"donation-gateway/internal/adapter/storage/memory"
	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

const (
	testProvider = "nowpayments"
	testSecret   = "whsec-test"
)

// fixture wires the services over the in-memory store the way the app does.
type fixture struct {
	store    *memory.Store
	cache    *memory.Cache
	pool     *WalletPool
	orch     *Orchestrator
	invoices *InvoiceServiceImpl
	ingestor *WebhookIngestorImpl
	sig      *HMACSignatureService
}

func newFixture(t *testing.T, seeds map[string][]string) *fixture {
	t.Helper()
	store := memory.NewStore()
	cache := memory.NewCache()
	log := newTestLogger()
	chains := domain.DefaultChainPolicies()

	pool := NewWalletPool(store.Wallets(), log)
	require.NoError(t, pool.Seed(context.Background(), seeds))

	orch := NewOrchestrator(store.Donations(), store.Tasks(), pool, chains, true, log)
	invoices := NewInvoiceService(store.Donations(), pool, orch, cache, cache, chains, InvoiceOptions{
		MinUSD:     decimal.RequireFromString("1.00"),
		MaxUSD:     decimal.RequireFromString("25000.00"),
		LockTTL:    2 * time.Second,
		QRSize:     128,
		QRCacheTTL: time.Hour,
	}, log)
	sig := NewHMACSignatureService()
	providers := map[string]WebhookProvider{
		testProvider: {Secret: testSecret, Algorithm: "sha512", SignatureHeader: "X-Nowpayments-Sig", Format: "nowpayments"},
		"generic":    {Secret: testSecret, Algorithm: "sha256", SignatureHeader: "X-Signature", EventIDHeader: "X-Event-Id", Format: "generic"},
	}
	ingestor := NewWebhookIngestor(store.Webhooks(), store.Donations(), orch, sig, cache, providers, chains, log)

	return &fixture{store: store, cache: cache, pool: pool, orch: orch, invoices: invoices, ingestor: ingestor, sig: sig}
}

func btcRequest(invoiceID string) ports.CreateInvoiceRequest {
	return ports.CreateInvoiceRequest{
		InvoiceID:    invoiceID,
		Chain:        "bitcoin",
		Token:        "BTC",
		AmountCrypto: decimal.RequireFromString("0.0015"),
		AmountUSD:    decimal.RequireFromString("100.00"),
	}
}

func strPtr(s string) *string { return &s }

func (f *fixture) reload(t *testing.T, id string) *domain.Donation {
	t.Helper()
	d, err := f.store.Donations().GetByInvoiceID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}
