package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const lockRetryInterval = 25 * time.Millisecond

// InvoiceOptions tunes invoice creation.
type InvoiceOptions struct {
	MinUSD     decimal.Decimal
	MaxUSD     decimal.Decimal
	LockTTL    time.Duration
	QRSize     int
	QRCacheTTL time.Duration
}

// InvoiceServiceImpl implements ports.InvoiceService.
type InvoiceServiceImpl struct {
	donations    ports.DonationRepository
	pool         *WalletPool
	orchestrator ports.SettlementOrchestrator
	locker       ports.Locker
	qrCache      ports.QRCache
	chains       map[string]domain.ChainPolicy
	opts         InvoiceOptions
	log          zerolog.Logger
}

// NewInvoiceService creates the invoice service.
func NewInvoiceService(
	donations ports.DonationRepository,
	pool *WalletPool,
	orchestrator ports.SettlementOrchestrator,
	locker ports.Locker,
	qrCache ports.QRCache,
	chains map[string]domain.ChainPolicy,
	opts InvoiceOptions,
	log zerolog.Logger,
) *InvoiceServiceImpl {
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &InvoiceServiceImpl{
		donations:    donations,
		pool:         pool,
		orchestrator: orchestrator,
		locker:       locker,
		qrCache:      qrCache,
		chains:       chains,
		opts:         opts,
		log:          log.With().Str("component", "invoice_service").Logger(),
	}
}

// CreateInvoice validates req, allocates a receiving address and persists a
// new donation. A known invoice id returns the stored donation with
// created=false.
func (s *InvoiceServiceImpl) CreateInvoice(ctx context.Context, req ports.CreateInvoiceRequest) (*domain.Donation, bool, error) {
	// a known invoice id replays the stored donation whatever the body says
	if req.InvoiceID != "" {
		if existing, err := s.donations.GetByInvoiceID(ctx, req.InvoiceID); err != nil {
			return nil, false, apperror.ErrDatabaseError(err)
		} else if existing != nil {
			s.log.Debug().Str("invoice_id", req.InvoiceID).Msg("idempotent replay")
			return existing, false, nil
		}
	}
	if err := s.validate(&req); err != nil {
		return nil, false, err
	}
	if req.InvoiceID == "" {
		req.InvoiceID = domain.NewInvoiceID()
	}
	log := s.log.With().Str("invoice_id", req.InvoiceID).Logger()

	lockKey := domain.BuildInvoiceLockKey(req.InvoiceID)
	token, err := s.acquire(ctx, lockKey)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn().Err(err).Msg("invoice lock release failed")
		}
	}()

	// a concurrent creator may have finished while we waited
	if existing, err := s.donations.GetByInvoiceID(ctx, req.InvoiceID); err != nil {
		return nil, false, apperror.ErrDatabaseError(err)
	} else if existing != nil {
		return existing, false, nil
	}

	d := s.newDonation(req)
	if err := s.assignAddress(ctx, d, req.ToAddress); err != nil {
		return nil, false, err
	}
	d.QRPayload = domain.PaymentPayload(d.ToAddress, d.MemoValue())

	if err := s.donations.Create(ctx, d); err != nil {
		s.releaseAllocation(ctx, d)
		switch {
		case errors.Is(err, ports.ErrConflict):
			winner, gerr := s.donations.GetByInvoiceID(ctx, d.InvoiceID)
			if gerr != nil || winner == nil {
				return nil, false, apperror.ErrDatabaseError(fmt.Errorf("loading winning invoice: %w", gerr))
			}
			log.Info().Msg("lost creation race, returning winner")
			return winner, false, nil
		case errors.Is(err, ports.ErrAddressInUse):
			return nil, false, apperror.ErrAddressInUse()
		default:
			return nil, false, apperror.ErrDatabaseError(err)
		}
	}

	snapshot := *d
	if _, err := s.orchestrator.Issue(ctx, d); err != nil {
		// left in CREATED; the reconciler issues it later
		log.Error().Err(err).Msg("issuing donation failed")
	}

	log.Info().
		Str("donation_id", d.ID.String()).
		Str("chain", d.Chain).
		Str("token", d.Token).
		Str("amount_usd", d.AmountUSD.StringFixed(2)).
		Bool("pooled", d.PooledAddress).
		Msg("donation created")

	return &snapshot, true, nil
}

// GetInvoice looks a donation up by its client-facing id.
func (s *InvoiceServiceImpl) GetInvoice(ctx context.Context, invoiceID string) (*domain.Donation, error) {
	d, err := s.donations.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if d == nil {
		return nil, apperror.ErrNotFound("Donation")
	}
	return d, nil
}

// GetByTxid looks a donation up by its on-chain transaction id.
func (s *InvoiceServiceImpl) GetByTxid(ctx context.Context, txid string) (*domain.Donation, error) {
	d, err := s.donations.GetByTxid(ctx, txid)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if d == nil {
		return nil, apperror.ErrNotFound("Donation")
	}
	return d, nil
}

// QRDataURI renders payload as a PNG data URI. Images are cached by payload
// digest; cache failures only cost a re-render.
func (s *InvoiceServiceImpl) QRDataURI(ctx context.Context, payload string) (string, error) {
	sum := sha256.Sum256([]byte(payload))
	key := hex.EncodeToString(sum[:])

	if s.qrCache != nil {
		if png, err := s.qrCache.Get(ctx, key); err != nil {
			s.log.Warn().Err(err).Msg("qr cache read failed")
		} else if png != nil {
			return pngDataURI(png), nil
		}
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, s.opts.QRSize)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("encoding qr: %w", err))
	}
	if s.qrCache != nil {
		if err := s.qrCache.Set(ctx, key, png, s.opts.QRCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("qr cache write failed")
		}
	}
	return pngDataURI(png), nil
}

// SupportedChains lists the configured chains by name.
func (s *InvoiceServiceImpl) SupportedChains() []domain.ChainPolicy {
	out := make([]domain.ChainPolicy, 0, len(s.chains))
	for _, p := range s.chains {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *InvoiceServiceImpl) validate(req *ports.CreateInvoiceRequest) error {
	req.Chain = strings.ToLower(strings.TrimSpace(req.Chain))
	req.Token = strings.ToUpper(strings.TrimSpace(req.Token))

	if !req.AmountCrypto.IsPositive() {
		return apperror.Validation("amount_crypto must be positive")
	}
	if !req.AmountUSD.IsPositive() {
		return apperror.Validation("amount_usd must be positive")
	}
	if req.AmountUSD.LessThan(s.opts.MinUSD) || req.AmountUSD.GreaterThan(s.opts.MaxUSD) {
		return apperror.Validation(fmt.Sprintf(
			"amount_usd must be between %s and %s", s.opts.MinUSD.StringFixed(2), s.opts.MaxUSD.StringFixed(2)))
	}
	policy, ok := s.chains[req.Chain]
	if !ok || !policy.SupportsToken(req.Token) {
		return apperror.ErrUnsupportedAsset(req.Chain, req.Token)
	}
	if req.Memo != nil && strings.TrimSpace(*req.Memo) == "" {
		req.Memo = nil
	}
	if policy.MemoRequired && req.Memo == nil {
		return apperror.Validation(fmt.Sprintf("memo is required on %s", req.Chain))
	}
	if req.ToAddress != nil && strings.TrimSpace(*req.ToAddress) == "" {
		req.ToAddress = nil
	}
	return nil
}

func (s *InvoiceServiceImpl) newDonation(req ports.CreateInvoiceRequest) *domain.Donation {
	now := time.Now().UTC()
	earmark := strings.TrimSpace(req.Earmark)
	if earmark == "" {
		earmark = "general"
	}
	source := req.Source
	if source == "" {
		source = domain.SourceAPI
	}
	return &domain.Donation{
		ID:            uuid.New(),
		InvoiceID:     req.InvoiceID,
		Chain:         req.Chain,
		Token:         req.Token,
		AmountCrypto:  req.AmountCrypto,
		AmountUSD:     req.AmountUSD,
		Memo:          req.Memo,
		DonorName:     req.DonorName,
		DonorEmail:    req.DonorEmail,
		Anonymous:     req.Anonymous,
		Earmark:       earmark,
		MintRequested: req.MintRequested,
		Status:        domain.DonationStatusCreated,
		Source:        source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// assignAddress sets d.ToAddress from the pool or from the caller.
func (s *InvoiceServiceImpl) assignAddress(ctx context.Context, d *domain.Donation, supplied *string) error {
	if supplied == nil {
		w, err := s.pool.Allocate(ctx, d.Chain, d.ID)
		if err != nil {
			return err
		}
		d.ToAddress = w.Address
		d.PooledAddress = true
		return nil
	}

	address := strings.TrimSpace(*supplied)
	w, err := s.pool.AllocateSpecific(ctx, d.Chain, address, d.ID)
	if err != nil {
		return err
	}
	d.ToAddress = address
	d.PooledAddress = w != nil
	return nil
}

func (s *InvoiceServiceImpl) releaseAllocation(ctx context.Context, d *domain.Donation) {
	if !d.PooledAddress {
		return
	}
	if err := s.pool.Release(context.WithoutCancel(ctx), d.Chain, d.ToAddress, d.ID); err != nil {
		s.log.Error().Err(err).Str("address", d.ToAddress).Msg("releasing allocation after failed insert")
	}
}

// acquire waits up to the lock TTL for the per-invoice lock.
func (s *InvoiceServiceImpl) acquire(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(s.opts.LockTTL)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, s.opts.LockTTL)
		if err != nil {
			return "", apperror.ErrLockTimeout(err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", apperror.ErrLockTimeout(errors.New("invoice lock held"))
		}
		select {
		case <-ctx.Done():
			return "", apperror.ErrLockTimeout(ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func pngDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
