// Package receipt renders donor receipts and stores them.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"donation-gateway/internal/core/domain"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	receiptWidth  = 560
	receiptHeight = 300
	lineHeight    = 18
	margin        = 24
	maxLineChars  = (receiptWidth - 2*margin) / 7 // Face7x13 advances 7px
)

var (
	paper  = color.RGBA{250, 248, 242, 255}
	ink    = color.RGBA{30, 30, 30, 255}
	accent = color.RGBA{22, 94, 131, 255}
)

// PNGRenderer draws a plain PNG receipt. The output depends only on the
// donation, so a retried render overwrites the stored object with the same
// bytes.
type PNGRenderer struct {
	organization string
}

// NewPNGRenderer creates a renderer that prints organization in the header.
func NewPNGRenderer(organization string) *PNGRenderer {
	return &PNGRenderer{organization: organization}
}

// ContentType implements ports.ReceiptRenderer.
func (r *PNGRenderer) ContentType() string { return "image/png" }

// Render implements ports.ReceiptRenderer.
func (r *PNGRenderer) Render(ctx context.Context, d *domain.Donation) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, receiptWidth, receiptHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)

	// header band
	draw.Draw(img, image.Rect(0, 0, receiptWidth, 44), image.NewUniform(accent), image.Point{}, draw.Src)
	drawString(img, margin, 28, clip(r.organization+" - Donation Receipt"), color.White)

	y := 44 + margin
	for _, line := range Lines(d) {
		drawString(img, margin, y, clip(line), ink)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// Lines is the text printed on a receipt.
func Lines(d *domain.Donation) []string {
	donor := "Anonymous"
	if !d.Anonymous && d.DonorName != nil && *d.DonorName != "" {
		donor = *d.DonorName
	}
	txid := "-"
	if d.Txid != nil {
		txid = *d.Txid
	}
	earmark := d.Earmark
	if earmark == "" {
		earmark = "General fund"
	}
	return []string{
		"Invoice:  " + d.InvoiceID,
		"Date:     " + d.CreatedAt.UTC().Format("2006-01-02 15:04 MST"),
		"Donor:    " + donor,
		fmt.Sprintf("Amount:   %s %s (USD %s)", d.AmountCrypto.String(), d.Token, d.AmountUSD.StringFixed(2)),
		"Chain:    " + d.Chain,
		"Tx:       " + txid,
		"Earmark:  " + earmark,
		"Thank you for your support.",
	}
}

func clip(s string) string {
	if len(s) <= maxLineChars {
		return s
	}
	return s[:maxLineChars-3] + "..."
}

func drawString(img *image.RGBA, x, y int, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
