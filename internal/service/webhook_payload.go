package service

import (
	"encoding/json"
	"fmt"
	"strings"
)

// paymentUpdateKind is what a provider status means for the donation.
type paymentUpdateKind int

const (
	updatePending paymentUpdateKind = iota
	updateConfirmed
	updateFailed
	updateExpired
)

func (k paymentUpdateKind) String() string {
	switch k {
	case updatePending:
		return "pending"
	case updateConfirmed:
		return "confirmed"
	case updateFailed:
		return "failed"
	case updateExpired:
		return "expired"
	}
	return "unknown"
}

// paymentUpdate is a provider callback normalised across formats.
type paymentUpdate struct {
	InvoiceID     string
	Txid          string
	FromAddress   string
	Confirmations int
	Kind          paymentUpdateKind
}

// providerStatuses maps provider payment statuses onto update kinds.
var providerStatuses = map[string]paymentUpdateKind{
	"waiting":        updatePending,
	"confirming":     updatePending,
	"partially_paid": updatePending,
	"pending":        updatePending,
	"confirmed":      updateConfirmed,
	"finished":       updateConfirmed,
	"sending":        updateConfirmed,
	"failed":         updateFailed,
	"refunded":       updateFailed,
	"expired":        updateExpired,
}

func mapProviderStatus(status string) (paymentUpdateKind, error) {
	kind, ok := providerStatuses[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return 0, fmt.Errorf("unknown payment status %q", status)
	}
	return kind, nil
}

type genericPayload struct {
	InvoiceID     string `json:"invoice_id"`
	Txid          string `json:"txid"`
	FromAddress   string `json:"from_address"`
	Confirmations int    `json:"confirmations"`
	Status        string `json:"status"`
}

type nowPaymentsIPN struct {
	OrderID       string `json:"order_id"`
	PayinHash     string `json:"payin_hash"`
	PaymentStatus string `json:"payment_status"`
}

// parsePaymentUpdate decodes raw according to the provider format.
func parsePaymentUpdate(format string, raw []byte) (*paymentUpdate, error) {
	switch format {
	case "", "generic":
		var p genericPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding generic payload: %w", err)
		}
		status := p.Status
		if status == "" {
			status = "pending"
		}
		kind, err := mapProviderStatus(status)
		if err != nil {
			return nil, err
		}
		return validUpdate(&paymentUpdate{
			InvoiceID:     strings.TrimSpace(p.InvoiceID),
			Txid:          strings.TrimSpace(p.Txid),
			FromAddress:   strings.TrimSpace(p.FromAddress),
			Confirmations: p.Confirmations,
			Kind:          kind,
		})
	case "nowpayments":
		var p nowPaymentsIPN
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding nowpayments ipn: %w", err)
		}
		kind, err := mapProviderStatus(p.PaymentStatus)
		if err != nil {
			return nil, err
		}
		return validUpdate(&paymentUpdate{
			InvoiceID: strings.TrimSpace(p.OrderID),
			Txid:      strings.TrimSpace(p.PayinHash),
			Kind:      kind,
		})
	}
	return nil, fmt.Errorf("unknown webhook format %q", format)
}

func validUpdate(u *paymentUpdate) (*paymentUpdate, error) {
	if u.InvoiceID == "" && u.Txid == "" {
		return nil, fmt.Errorf("payload carries neither invoice id nor txid")
	}
	if u.Confirmations < 0 {
		return nil, fmt.Errorf("negative confirmations")
	}
	return u, nil
}
