// Package custody talks to the custody service that mints commemorative
// tokens and sweeps funds to treasury.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxErrorBody = 4 << 10

// Client is an HTTP custody client. Every write carries the donation id as
// Idempotency-Key so the service can collapse repeats.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a custody client.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid custody base url: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "custody_client").Logger(),
	}, nil
}

type mintBody struct {
	DonationID string `json:"donation_id"`
	InvoiceID  string `json:"invoice_id"`
	Chain      string `json:"chain"`
	Recipient  string `json:"recipient,omitempty"`
	ReceiptURL string `json:"receipt_url"`
}

type mintResult struct {
	TokenID string `json:"token_id"`
}

type sweepBody struct {
	DonationID  string `json:"donation_id"`
	Chain       string `json:"chain"`
	Token       string `json:"token"`
	FromAddress string `json:"from_address"`
	Amount      string `json:"amount"`
}

type sweepResult struct {
	Txid string `json:"txid"`
}

// LookupMint implements ports.Minter.
func (c *Client) LookupMint(ctx context.Context, donationID uuid.UUID) (string, bool, error) {
	var res mintResult
	found, err := c.do(ctx, http.MethodGet, "/v1/mints/"+donationID.String(), "", nil, &res)
	if err != nil || !found {
		return "", false, err
	}
	return res.TokenID, true, nil
}

// Mint implements ports.Minter.
func (c *Client) Mint(ctx context.Context, req ports.MintRequest) (string, error) {
	var res mintResult
	_, err := c.do(ctx, http.MethodPost, "/v1/mints", req.DonationID.String(), mintBody{
		DonationID: req.DonationID.String(),
		InvoiceID:  req.InvoiceID,
		Chain:      req.Chain,
		Recipient:  req.Recipient,
		ReceiptURL: req.ReceiptURL,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.TokenID == "" {
		return "", errors.New("custody mint response has no token_id")
	}
	return res.TokenID, nil
}

// LookupSweep implements ports.Sweeper.
func (c *Client) LookupSweep(ctx context.Context, donationID uuid.UUID) (string, bool, error) {
	var res sweepResult
	found, err := c.do(ctx, http.MethodGet, "/v1/sweeps/"+donationID.String(), "", nil, &res)
	if err != nil || !found {
		return "", false, err
	}
	return res.Txid, true, nil
}

// Sweep implements ports.Sweeper.
func (c *Client) Sweep(ctx context.Context, req ports.SweepRequest) (string, error) {
	var res sweepResult
	_, err := c.do(ctx, http.MethodPost, "/v1/sweeps", req.DonationID.String(), sweepBody{
		DonationID:  req.DonationID.String(),
		Chain:       req.Chain,
		Token:       req.Token,
		FromAddress: req.FromAddress,
		Amount:      req.Amount,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.Txid == "" {
		return "", errors.New("custody sweep response has no txid")
	}
	return res.Txid, nil
}

// do sends a request and decodes a 2xx body into out. A 404 reports
// found=false. Client errors other than 408 and 429 wrap ports.ErrPermanent.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) (bool, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encoding custody request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("building custody request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "DonationGateway/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("custody %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("custody call")

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return false, fmt.Errorf("decoding custody response: %w", err)
			}
		}
		return true, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("custody %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	if permanent(resp.StatusCode) {
		return false, fmt.Errorf("%w: %w", ports.ErrPermanent, err)
	}
	return false, err
}

func permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
