package pipeline

import (
	"context"
	"testing"
	"time"

	"donation-gateway/internal/adapter/storage/memory"
	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *memory.Store
	pool     *service.WalletPool
	orch     *service.Orchestrator
	invoices *service.InvoiceServiceImpl
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	store := memory.NewStore()
	cache := memory.NewCache()
	chains := domain.DefaultChainPolicies()
	pool := service.NewWalletPool(store.Wallets(), log)
	require.NoError(t, pool.Seed(context.Background(), map[string][]string{
		"bitcoin": {"bc1qp1", "bc1qp2", "bc1qp3"},
	}))
	orch := service.NewOrchestrator(store.Donations(), store.Tasks(), pool, chains, true, log)
	invoices := service.NewInvoiceService(store.Donations(), pool, orch, cache, cache, chains, service.InvoiceOptions{
		MinUSD: decimal.RequireFromString("1"),
		MaxUSD: decimal.RequireFromString("25000"),
	}, log)
	return &harness{store: store, pool: pool, orch: orch, invoices: invoices, clock: time.Now().UTC()}
}

func (h *harness) create(t *testing.T, invoiceID string, mint bool) *domain.Donation {
	t.Helper()
	d, _, err := h.invoices.CreateInvoice(context.Background(), ports.CreateInvoiceRequest{
		InvoiceID:     invoiceID,
		Chain:         "bitcoin",
		Token:         "BTC",
		AmountCrypto:  decimal.RequireFromString("0.01"),
		AmountUSD:     decimal.RequireFromString("500"),
		MintRequested: mint,
	})
	require.NoError(t, err)
	return h.get(t, d.ID)
}

func (h *harness) get(t *testing.T, id uuid.UUID) *domain.Donation {
	t.Helper()
	d, err := h.store.Donations().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

// dispatcher builds a dispatcher whose clock the test advances.
func (h *harness) dispatcher(t *testing.T, maxAttempts int, stages ...Stage) *Dispatcher {
	t.Helper()
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = maxAttempts
	d, err := NewDispatcher(h.store.Tasks(), h.store.Donations(), h.orch, stages, DispatcherConfig{
		WorkerID:      "test-worker",
		Workers:       4,
		BatchSize:     8,
		PollInterval:  time.Second,
		StageTimeout:  time.Second,
		LeaseDuration: time.Minute,
		Retry:         policy,
	}, zerolog.Nop())
	require.NoError(t, err)
	d.now = func() time.Time { return h.clock }
	t.Cleanup(d.pool.Release)
	return d
}

// step advances the clock past any backoff and runs one dispatch round.
func (h *harness) step(t *testing.T, d *Dispatcher) int {
	t.Helper()
	h.clock = h.clock.Add(2 * time.Hour)
	n, err := d.Tick(context.Background())
	require.NoError(t, err)
	d.Drain()
	return n
}
