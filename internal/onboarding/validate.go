package onboarding

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reTaxID = regexp.MustCompile(`^\d{9}$`)
	rePhone = regexp.MustCompile(`^[+]?[\d\s\-()]{9,15}$`)
	// RFC 5322 subset: enough to catch typos, not a full grammar.
	reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	reSheetURL = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9\-_]+)`)
	reSheetID  = regexp.MustCompile(`^[a-zA-Z0-9\-_]{20,}$`)
)

// OwnerDetails is the parsed 4-tuple from the owner_details step.
type OwnerDetails struct {
	Name  string
	TaxID string
	Phone string
	Email string
}

// ParseOwnerDetails validates "name, taxId, phone, email". On failure it
// returns the i18n key of the field-specific error so the prompt can be
// repeated with it.
func ParseOwnerDetails(text string) (*OwnerDetails, string) {
	parts := strings.Split(text, ",")
	if len(parts) != 4 {
		return nil, "onboarding.owner_details_format"
	}
	d := &OwnerDetails{
		Name:  strings.TrimSpace(parts[0]),
		TaxID: strings.TrimSpace(parts[1]),
		Phone: strings.TrimSpace(parts[2]),
		Email: strings.TrimSpace(parts[3]),
	}
	if d.Name == "" {
		return nil, "onboarding.owner_details_format"
	}
	if !reTaxID.MatchString(d.TaxID) {
		return nil, "onboarding.invalid_tax_id"
	}
	if !rePhone.MatchString(d.Phone) {
		return nil, "onboarding.invalid_phone"
	}
	if !reEmail.MatchString(d.Email) {
		return nil, "onboarding.invalid_email"
	}
	return d, ""
}

// ValidBusinessName accepts plain text between 2 and 120 characters.
func ValidBusinessName(s string) bool {
	n := len(strings.TrimSpace(s))
	return n >= 2 && n <= 120
}

// ParseCounterSeed accepts a positive integer for the first invoice number.
func ParseCounterSeed(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ExtractSpreadsheetID pulls the spreadsheet id out of either a raw id or a
// full Google Sheets URL. Empty when neither shape matches.
func ExtractSpreadsheetID(s string) string {
	s = strings.TrimSpace(s)
	if m := reSheetURL.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if reSheetID.MatchString(s) {
		return s
	}
	return ""
}
