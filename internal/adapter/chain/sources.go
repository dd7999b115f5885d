package chain

import (
	"context"

	"donation-gateway/config"
	"donation-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// NewSources dials a confirmation source for every chain that has one.
// Chains without a source rely on provider webhooks alone. The returned
// func closes the connections.
func NewSources(ctx context.Context, chains map[string]config.ChainConfig, log zerolog.Logger) (map[string]ports.ConfirmationSource, func(), error) {
	sources := make(map[string]ports.ConfirmationSource)
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for name, cfg := range chains {
		if cfg.RPCURL == "" {
			continue
		}
		switch name {
		case "ethereum":
			src, closeFn, err := DialEthereum(ctx, cfg.RPCURL, log)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sources[name] = src
			closers = append(closers, closeFn)
		default:
			log.Warn().Str("chain", name).Msg("rpc_url set but no confirmation source for this chain")
		}
	}
	return sources, closeAll, nil
}
