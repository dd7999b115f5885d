package domain

import "strings"

// ChainPolicy describes what a chain accepts and how long payments take to settle.
type ChainPolicy struct {
	Name                  string
	Tokens                []string
	RequiredConfirmations int
	MemoRequired          bool
}

// SupportsToken reports whether token may be paid on this chain.
func (p ChainPolicy) SupportsToken(token string) bool {
	for _, t := range p.Tokens {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// DefaultChainPolicies returns the chains accepted out of the box.
func DefaultChainPolicies() map[string]ChainPolicy {
	return map[string]ChainPolicy{
		"bitcoin":  {Name: "bitcoin", Tokens: []string{"BTC"}, RequiredConfirmations: 3},
		"ethereum": {Name: "ethereum", Tokens: []string{"ETH", "USDC", "USDT"}, RequiredConfirmations: 12},
		"solana":   {Name: "solana", Tokens: []string{"SOL", "USDC"}, RequiredConfirmations: 32},
		"stellar":  {Name: "stellar", Tokens: []string{"XLM"}, RequiredConfirmations: 1, MemoRequired: true},
	}
}
