package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	operatorRole       = "operator"
	maxDeadLetterLimit = 500
)

// OperatorAccount is the single configured operator login.
type OperatorAccount struct {
	Username     string
	PasswordHash string // argon2id encoded
}

// AdminServiceImpl implements ports.AdminService.
type AdminServiceImpl struct {
	account      OperatorAccount
	hashSvc      ports.HashService
	tokenSvc     ports.TokenService
	tasks        ports.TaskRepository
	orchestrator ports.SettlementOrchestrator
	pool         *WalletPool
	chains       map[string]domain.ChainPolicy
	log          zerolog.Logger
}

// NewAdminService creates a new AdminServiceImpl.
func NewAdminService(
	account OperatorAccount,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	tasks ports.TaskRepository,
	orchestrator ports.SettlementOrchestrator,
	pool *WalletPool,
	chains map[string]domain.ChainPolicy,
	log zerolog.Logger,
) *AdminServiceImpl {
	return &AdminServiceImpl{
		account:      account,
		hashSvc:      hashSvc,
		tokenSvc:     tokenSvc,
		tasks:        tasks,
		orchestrator: orchestrator,
		pool:         pool,
		chains:       chains,
		log:          log.With().Str("component", "admin").Logger(),
	}
}

// Login validates operator credentials and returns a JWT token.
func (s *AdminServiceImpl) Login(ctx context.Context, username, password string) (*ports.LoginResponse, error) {
	if s.account.PasswordHash == "" {
		return nil, apperror.ErrInvalidCredentials()
	}
	// Verify the password even on a bad username so both paths cost the same.
	valid, err := s.hashSvc.Verify(password, s.account.PasswordHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.account.Username)) == 1
	if !valid || !userOK {
		s.log.Warn().Str("username", username).Msg("operator login rejected")
		return nil, apperror.ErrInvalidCredentials()
	}

	token, expiry, err := s.tokenSvc.Generate(username, operatorRole)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return &ports.LoginResponse{Token: token, ExpiresAt: expiry}, nil
}

// ListDeadLetters returns the newest archived settlement tasks.
func (s *AdminServiceImpl) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 || limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}
	dls, err := s.tasks.ListDeadLetters(ctx, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return dls, nil
}

// DecideCompliance records an operator verdict for a donation in review.
func (s *AdminServiceImpl) DecideCompliance(ctx context.Context, invoiceID string, approve bool) (*domain.Donation, error) {
	d, err := s.orchestrator.Decide(ctx, invoiceID, approve)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("invoice_id", invoiceID).Bool("approve", approve).
		Str("status", string(d.Status)).Msg("compliance decision recorded")
	return d, nil
}

// ListWallets returns pool addresses, optionally filtered by chain.
func (s *AdminServiceImpl) ListWallets(ctx context.Context, chain string) ([]domain.WalletAddress, error) {
	return s.pool.List(ctx, strings.ToLower(strings.TrimSpace(chain)))
}

// AddWallet registers an address for a configured chain.
func (s *AdminServiceImpl) AddWallet(ctx context.Context, chain, address string) (*domain.WalletAddress, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if _, ok := s.chains[chain]; !ok {
		return nil, apperror.Validation(fmt.Sprintf("unknown chain %q", chain))
	}
	return s.pool.Add(ctx, chain, address)
}
