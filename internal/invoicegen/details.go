package invoicegen

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Details is the parsed awaiting_details message: "customer, amount,
// description[, customerTaxId]".
type Details struct {
	CustomerName  string
	Amount        decimal.Decimal
	Description   string
	CustomerTaxID string
}

// ParseDetails validates the comma-separated details line. On failure it
// returns the i18n key for the error so the prompt repeats with it.
func ParseDetails(text string) (*Details, string) {
	parts := strings.Split(text, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return nil, "invoicegen.details_format"
	}
	d := &Details{
		CustomerName: strings.TrimSpace(parts[0]),
		Description:  strings.TrimSpace(parts[2]),
	}
	if d.CustomerName == "" || d.Description == "" {
		return nil, "invoicegen.details_format"
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil || !amount.IsPositive() {
		return nil, "invoicegen.invalid_amount"
	}
	d.Amount = amount

	if len(parts) == 4 {
		d.CustomerTaxID = strings.TrimSpace(parts[3])
	}
	return d, ""
}
