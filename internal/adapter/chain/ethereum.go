// Package chain holds the on-chain confirmation sources.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"donation-gateway/internal/core/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// EthereumClient is the subset of *ethclient.Client the source needs.
type EthereumClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// EthereumSource counts confirmations of a donation's reported transaction
// over JSON-RPC. It cannot discover payments on its own; the txid comes from
// a webhook first.
type EthereumSource struct {
	client EthereumClient
	log    zerolog.Logger
}

// NewEthereumSource wraps an RPC client.
func NewEthereumSource(client EthereumClient, log zerolog.Logger) *EthereumSource {
	return &EthereumSource{client: client, log: log.With().Str("component", "ethereum_source").Logger()}
}

// DialEthereum connects to rpcURL.
func DialEthereum(ctx context.Context, rpcURL string, log zerolog.Logger) (*EthereumSource, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to ethereum rpc: %w", err)
	}
	return NewEthereumSource(client, log), client.Close, nil
}

// Observe implements ports.ConfirmationSource.
func (s *EthereumSource) Observe(ctx context.Context, d *domain.Donation) (*domain.PaymentObservation, error) {
	if d.Txid == nil {
		return nil, nil
	}
	hash := common.HexToHash(*d.Txid)
	log := s.log.With().Str("invoice_id", d.InvoiceID).Str("txid", hash.Hex()).Logger()

	tx, pending, err := s.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching transaction: %w", err)
	}

	// native transfers must land on the invoice address; token transfers
	// go to the token contract instead
	if strings.EqualFold(d.Token, "ETH") {
		if to := tx.To(); to == nil || !strings.EqualFold(to.Hex(), d.ToAddress) {
			log.Warn().Msg("transaction does not pay the invoice address")
			return nil, nil
		}
	}

	obs := &domain.PaymentObservation{Txid: *d.Txid, FromAddress: sender(tx), Source: domain.SourceProvider}
	if pending {
		return obs, nil
	}

	receipt, err := s.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return obs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Warn().Msg("transaction reverted")
		return nil, nil
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching head block: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head >= mined {
		obs.Confirmations = int(head-mined) + 1
	}
	return obs, nil
}

func sender(tx *types.Transaction) string {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ""
	}
	return from.Hex()
}
