// Package sanitize sits between the LLM providers and every downstream
// consumer. No provider string reaches the database, the spreadsheet, or a
// chat message without passing through Clean.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/kvitly/backend/internal/llm"
)

// Per-field length maxima.
const (
	maxVendor    = 200
	maxNumber    = 100
	maxCurrency  = 10
	maxRejection = 500
)

// Confidence ceiling once any field was nullified for suspicious content.
const suspiciousConfidenceCap = 0.3

// Injection patterns, one per attack family. A match nullifies the field;
// it never fails the extraction.
var injectionPatterns = []*regexp.Regexp{
	// Instruction override
	regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`),
	// Role hijack
	regexp.MustCompile(`(?i)(you\s+are\s+now|act\s+as\s+|pretend\s+to\s+be|new\s+instructions?:|system\s*:)`),
	// Script / event handler
	regexp.MustCompile(`(?i)(<\s*script|javascript\s*:|on(error|load|click|mouseover)\s*=)`),
	// Template expression
	regexp.MustCompile(`\{\{|\}\}|\$\{|<%`),
}

func suspicious(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Clean normalizes provider output in place: suspicious strings are
// nullified (capping confidence), long strings truncated, the date
// normalized to ISO-8601, the category snapped to the closed set, and the
// confidence clamped to [0,1]. Returns whether anything looked like an
// injection attempt.
func Clean(f *llm.Fields) bool {
	tainted := false

	clean := func(s *string, max int) {
		*s = strings.TrimSpace(*s)
		if *s == "" {
			return
		}
		if suspicious(*s) {
			*s = ""
			tainted = true
			return
		}
		if len(*s) > max {
			*s = (*s)[:max]
		}
	}

	clean(&f.VendorName, maxVendor)
	clean(&f.InvoiceNumber, maxNumber)
	clean(&f.Currency, maxCurrency)
	clean(&f.RejectionReason, maxRejection)
	clean(&f.Category, maxVendor)
	clean(&f.InvoiceDate, maxNumber)

	f.InvoiceDate = NormalizeDate(f.InvoiceDate)
	f.Category = NormalizeCategory(f.Category)

	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}
	if tainted && f.Confidence > suspiciousConfidenceCap {
		f.Confidence = suspiciousConfidenceCap
	}
	return tainted
}
