package invoicegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvitly/backend/internal/database"
)

func testConfig() *database.BusinessConfig {
	return &database.BusinessConfig{
		TenantID: 555,
		Language: "he",
		Business: database.BusinessProfile{
			Name:      "Studio Alma",
			OwnerName: "Dana Levi",
			TaxID:     "123456789",
			TaxStatus: database.TaxStatusExempt,
			Email:     "dana@alma.co.il",
			Phone:     "0501234567",
			Address:   "12 Herzl St, Tel Aviv",
		},
		Invoice: database.InvoiceBranding{
			DigitalSignatureText: "מסמך ממוחשב",
			GeneratedByText:      "הופק באמצעות Kvitly",
		},
	}
}

func testInvoice() *database.GeneratedInvoice {
	return &database.GeneratedInvoice{
		TenantID:      555,
		InvoiceNumber: "202642",
		DocumentType:  database.DocTypeInvoice,
		Customer:      database.Customer{Name: "Acme Ltd", TaxID: "512345678"},
		Description:   "Consulting June",
		Amount:        1250.50,
		Currency:      "ILS",
		PaymentMethod: database.PaymentBankTransfer,
		Date:          "25/08/2026",
	}
}

func TestBuildHTML(t *testing.T) {
	html, err := buildHTML(testConfig(), testInvoice(), "")
	require.NoError(t, err)

	assert.Contains(t, html, `dir="rtl"`)
	assert.Contains(t, html, "Studio Alma")
	assert.Contains(t, html, "202642")
	assert.Contains(t, html, "Acme Ltd")
	assert.Contains(t, html, "1250.50")
	assert.Contains(t, html, "₪")
	assert.Contains(t, html, "חשבונית מס")
	// Exempt dealers carry the no-VAT note.
	assert.Contains(t, html, "עוסק פטור")
	// Signature block and footer from the config branding.
	assert.Contains(t, html, "מסמך ממוחשב")
	assert.Contains(t, html, "הופק באמצעות Kvitly")
	// No logo configured, no img tag.
	assert.NotContains(t, html, "<img")
}

func TestBuildHTMLEscapesUserInput(t *testing.T) {
	inv := testInvoice()
	inv.Customer.Name = `<script>alert("x")</script>`
	inv.Description = `</td><td onmouseover="steal()">`

	html, err := buildHTML(testConfig(), inv, "")
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>alert")
	assert.NotContains(t, html, `onmouseover="steal()"`)
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestBuildHTMLEmbedsLogo(t *testing.T) {
	html, err := buildHTML(testConfig(), testInvoice(), "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Contains(t, html, `src="data:image/png;base64,iVBORw0KGgo="`)
}

func TestLogoDataURI(t *testing.T) {
	assert.Empty(t, logoDataURI(nil))

	uri := logoDataURI([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	assert.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"), uri)
}
