package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `chain, address, active, allocated_to, allocated_at, created_at`

// WalletRepo implements ports.WalletRepository. Allocation is one statement
// that locks the candidate row with SKIP LOCKED, so concurrent allocators
// never receive the same address.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a PostgreSQL-backed WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) Add(ctx context.Context, w *domain.WalletAddress) (bool, error) {
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO wallet_addresses (chain, address, active, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chain, address) DO NOTHING`,
		w.Chain, w.Address, w.Active, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("adding wallet address: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WalletRepo) Get(ctx context.Context, chain, address string) (*domain.WalletAddress, error) {
	return r.getOne(ctx,
		`SELECT `+walletColumns+` FROM wallet_addresses WHERE chain = $1 AND address = $2`,
		chain, address,
	)
}

func (r *WalletRepo) Allocate(ctx context.Context, chain string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	return r.getOne(ctx,
		`UPDATE wallet_addresses SET allocated_to = $2, allocated_at = NOW()
		 WHERE (chain, address) = (
			SELECT chain, address FROM wallet_addresses
			WHERE chain = $1 AND active AND allocated_to IS NULL
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 ) AND allocated_to IS NULL
		 RETURNING `+walletColumns,
		chain, donationID,
	)
}

func (r *WalletRepo) AllocateAddress(ctx context.Context, chain, address string, donationID uuid.UUID) (*domain.WalletAddress, error) {
	return r.getOne(ctx,
		`UPDATE wallet_addresses SET allocated_to = $3, allocated_at = NOW()
		 WHERE chain = $1 AND address = $2 AND active AND allocated_to IS NULL
		 RETURNING `+walletColumns,
		chain, address, donationID,
	)
}

func (r *WalletRepo) Release(ctx context.Context, chain, address string, donationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE wallet_addresses SET allocated_to = NULL, allocated_at = NULL
		 WHERE chain = $1 AND address = $2 AND allocated_to = $3`,
		chain, address, donationID,
	)
	if err != nil {
		return fmt.Errorf("releasing wallet address: %w", err)
	}
	return nil
}

func (r *WalletRepo) List(ctx context.Context, chain string) ([]domain.WalletAddress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+walletColumns+` FROM wallet_addresses
		 WHERE $1 = '' OR chain = $1
		 ORDER BY chain, created_at`,
		chain,
	)
	if err != nil {
		return nil, fmt.Errorf("listing wallet addresses: %w", err)
	}
	return collectWallets(rows)
}

func (r *WalletRepo) ListOrphaned(ctx context.Context, allocatedBefore time.Time, limit int) ([]domain.WalletAddress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT w.chain, w.address, w.active, w.allocated_to, w.allocated_at, w.created_at
		 FROM wallet_addresses w
		 LEFT JOIN donations d ON d.id = w.allocated_to
		 WHERE w.allocated_to IS NOT NULL AND w.allocated_at < $1
		   AND (d.id IS NULL OR d.status = ANY($2))
		 ORDER BY w.allocated_at
		 LIMIT $3`,
		allocatedBefore, terminalStatusNames(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orphaned addresses: %w", err)
	}
	return collectWallets(rows)
}

func (r *WalletRepo) getOne(ctx context.Context, query string, args ...any) (*domain.WalletAddress, error) {
	var w domain.WalletAddress
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&w.Chain, &w.Address, &w.Active, &w.AllocatedTo, &w.AllocatedAt, &w.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func collectWallets(rows pgx.Rows) ([]domain.WalletAddress, error) {
	defer rows.Close()
	var out []domain.WalletAddress
	for rows.Next() {
		var w domain.WalletAddress
		if err := rows.Scan(&w.Chain, &w.Address, &w.Active, &w.AllocatedTo, &w.AllocatedAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func terminalStatusNames() []string {
	return statusNames(domain.TerminalStatuses())
}

func statusNames(statuses []domain.DonationStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return names
}
