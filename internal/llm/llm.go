// Package llm extracts structured invoice fields from document images
// through vision-capable language models. Two providers sit behind one
// interface; the Extractor tries the primary and falls back to the
// secondary on any error. Nothing here retries: redelivery is the queue's
// job.
//
// Provider output is untrusted until it has passed through the sanitize
// package.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fields is the fixed extraction schema every provider must fill.
type Fields struct {
	IsInvoice       bool     `json:"is_invoice"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	VendorName      string   `json:"vendor_name,omitempty"`
	InvoiceNumber   string   `json:"invoice_number,omitempty"`
	InvoiceDate     string   `json:"invoice_date,omitempty"`
	TotalAmount     *float64 `json:"total_amount,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	VATAmount       *float64 `json:"vat_amount,omitempty"`
	Confidence      float64  `json:"confidence"`
	Category        string   `json:"category,omitempty"`
}

// Usage records what one extraction cost.
type Usage struct {
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Provider is one vision model behind the extraction prompt.
type Provider interface {
	Name() string
	Extract(ctx context.Context, images [][]byte, mimeHint string) (*Fields, *Usage, error)
}

// Per-provider call deadline. The pipeline's outer deadline sits above it.
const callTimeout = 60 * time.Second

// ErrNoProvider means no provider is configured at all; config validation
// should have caught this at startup.
var ErrNoProvider = errors.New("llm: no provider configured")

// Extractor applies the fallback policy over the configured providers.
type Extractor struct {
	primary  Provider
	fallback Provider
}

// NewExtractor wires the policy. Either provider may be nil; with no
// primary the fallback is used directly.
func NewExtractor(primary, fallback Provider) *Extractor {
	return &Extractor{primary: primary, fallback: fallback}
}

// Extract runs the primary provider and, on any error, the fallback.
// Neither provider is retried within one call.
func (e *Extractor) Extract(ctx context.Context, images [][]byte, mimeHint string) (*Fields, *Usage, error) {
	if e.primary == nil && e.fallback == nil {
		return nil, nil, ErrNoProvider
	}
	if e.primary == nil {
		return callProvider(ctx, e.fallback, images, mimeHint)
	}

	fields, usage, err := callProvider(ctx, e.primary, images, mimeHint)
	if err == nil {
		return fields, usage, nil
	}
	if e.fallback == nil {
		return nil, nil, err
	}
	fields, usage, ferr := callProvider(ctx, e.fallback, images, mimeHint)
	if ferr != nil {
		return nil, nil, fmt.Errorf("llm: primary failed (%v); fallback failed: %w", err, ferr)
	}
	return fields, usage, nil
}

func callProvider(ctx context.Context, p Provider, images [][]byte, mimeHint string) (*Fields, *Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return p.Extract(ctx, images, mimeHint)
}

// parseFields decodes a provider's JSON answer, tolerating the code fences
// models wrap JSON in despite instructions.
func parseFields(raw string) (*Fields, error) {
	raw = StripCodeFences(raw)
	var f Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("llm: parse model output: %w", err)
	}
	return &f, nil
}

// StripCodeFences removes a leading ```json / ``` fence pair around a
// model answer.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json").
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
