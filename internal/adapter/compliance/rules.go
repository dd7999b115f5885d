// Package compliance provides a rule-based AML screener.
package compliance

import (
	"context"
	"fmt"
	"strings"

	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RuleScreener rejects donations from denied addresses and parks large ones
// for operator review.
type RuleScreener struct {
	denied    map[string]struct{}
	threshold decimal.Decimal
	log       zerolog.Logger
}

// NewRuleScreener builds a screener. An empty threshold disables review.
func NewRuleScreener(denyList []string, reviewThresholdUSD string, log zerolog.Logger) (*RuleScreener, error) {
	s := &RuleScreener{
		denied: make(map[string]struct{}, len(denyList)),
		log:    log.With().Str("component", "compliance").Logger(),
	}
	for _, addr := range denyList {
		s.denied[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}
	if reviewThresholdUSD != "" {
		t, err := decimal.NewFromString(reviewThresholdUSD)
		if err != nil {
			return nil, fmt.Errorf("parsing review threshold: %w", err)
		}
		s.threshold = t
	}
	return s, nil
}

// Screen implements ports.ComplianceScreener.
func (s *RuleScreener) Screen(ctx context.Context, d *domain.Donation) (ports.Verdict, error) {
	if d.FromAddress != nil {
		if _, ok := s.denied[strings.ToLower(*d.FromAddress)]; ok {
			s.log.Warn().Str("invoice_id", d.InvoiceID).Msg("sender on deny list")
			return ports.Verdict{Decision: ports.ComplianceRejected, Reason: "sender_denied"}, nil
		}
	}
	if s.threshold.IsPositive() && d.AmountUSD.GreaterThanOrEqual(s.threshold) {
		return ports.Verdict{Decision: ports.ComplianceReview, Reason: "amount_over_threshold"}, nil
	}
	return ports.Verdict{Decision: ports.ComplianceApproved}, nil
}
