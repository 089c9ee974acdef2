package invoicegen

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/kvitly/backend/internal/database"
)

//go:embed invoice.html.tmpl
var templateFS embed.FS

var invoiceTmpl = template.Must(template.ParseFS(templateFS, "invoice.html.tmpl"))

// Hebrew document titles per Israeli invoicing convention.
var docTitles = map[string]string{
	database.DocTypeInvoice:        "חשבונית מס",
	database.DocTypeInvoiceReceipt: "חשבונית מס / קבלה",
}

var paymentLabels = map[string]string{
	database.PaymentCash:         "מזומן",
	database.PaymentCreditCard:   "כרטיס אשראי",
	database.PaymentBankTransfer: "העברה בנקאית",
	database.PaymentBit:          "ביט",
	database.PaymentCheck:        "צ'ק",
}

var taxStatusLabels = map[string]string{
	database.TaxStatusLicensed: "עוסק מורשה",
	database.TaxStatusExempt:   "עוסק פטור",
}

// templateData feeds invoice.html.tmpl. Everything user-supplied passes
// through html/template escaping; LogoDataURI is the only pre-trusted
// value, built by us from bucket bytes.
type templateData struct {
	Title          string
	InvoiceNumber  string
	Date           string
	BusinessName   string
	OwnerName      string
	TaxID          string
	TaxStatusLabel string
	Address        string
	Phone          string
	Email          string
	LogoDataURI    template.URL
	CustomerName   string
	CustomerTaxID  string
	Description    string
	Amount         string
	Currency       string
	PaymentLabel   string
	SignatureText  string
	GeneratedByTag string
	VATExempt      bool
}

// buildHTML renders the RTL invoice document.
func buildHTML(cfg *database.BusinessConfig, inv *database.GeneratedInvoice, logoDataURI string) (string, error) {
	data := templateData{
		Title:          docTitles[inv.DocumentType],
		InvoiceNumber:  inv.InvoiceNumber,
		Date:           inv.Date,
		BusinessName:   cfg.Business.Name,
		OwnerName:      cfg.Business.OwnerName,
		TaxID:          cfg.Business.TaxID,
		TaxStatusLabel: taxStatusLabels[cfg.Business.TaxStatus],
		Address:        cfg.Business.Address,
		Phone:          cfg.Business.Phone,
		Email:          cfg.Business.Email,
		LogoDataURI:    template.URL(logoDataURI),
		CustomerName:   inv.Customer.Name,
		CustomerTaxID:  inv.Customer.TaxID,
		Description:    inv.Description,
		Amount:         fmt.Sprintf("%.2f", inv.Amount),
		Currency:       currencySymbol(inv.Currency),
		PaymentLabel:   paymentLabels[inv.PaymentMethod],
		SignatureText:  cfg.Invoice.DigitalSignatureText,
		GeneratedByTag: cfg.Invoice.GeneratedByText,
		VATExempt:      cfg.Business.TaxStatus == database.TaxStatusExempt,
	}

	var sb strings.Builder
	if err := invoiceTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("invoicegen: render template: %w", err)
	}
	return sb.String(), nil
}

func currencySymbol(code string) string {
	switch code {
	case "ILS", "":
		return "₪"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	default:
		return code
	}
}
