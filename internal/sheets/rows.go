package sheets

import (
	"fmt"
	"strings"

	"github.com/kvitly/backend/internal/database"
)

// Row status labels. NeedsReview flags low-confidence rows for a human; it
// is a spreadsheet label only, independent of job status.
const (
	RowStatusProcessed   = "processed"
	RowStatusNeedsReview = "needs_review"
)

// Tenant tab: 11 columns. The admin sheet appends 3 more.
var InvoiceHeaders = []string{
	"Date", "Vendor", "Invoice #", "Amount", "Currency", "VAT",
	"Category", "Status", "Confidence", "File Link", "Uploaded By",
}

var AdminInvoiceHeaders = append(append([]string{}, InvoiceHeaders...),
	"Tenant ID", "Chat Title", "Model Cost USD",
)

var GeneratedHeaders = []string{
	"Invoice #", "Date", "Customer", "Customer Tax ID", "Description",
	"Amount", "Currency", "Payment", "Type", "Issued By", "PDF Link",
}

// InvoiceRow builds the tenant-sheet row for a processed job.
func InvoiceRow(job *database.IngestJob) []interface{} {
	e := job.Extraction

	status := RowStatusProcessed
	if e.NeedsReview() {
		status = RowStatusNeedsReview
	}

	uploader := job.Source.UploaderUsername
	if uploader == "" {
		uploader = job.Source.UploaderFirstName
	}

	return []interface{}{
		sheetDate(e.InvoiceDate),
		e.VendorName,
		e.InvoiceNumber,
		amountCell(e.TotalAmount),
		e.Currency,
		amountCell(e.VATAmount),
		e.Category,
		status,
		fmt.Sprintf("%.2f", e.Confidence),
		job.Result.DriveLink,
		uploader,
	}
}

// AdminInvoiceRow is the tenant row plus the cross-tenant audit columns.
func AdminInvoiceRow(job *database.IngestJob) []interface{} {
	return append(InvoiceRow(job),
		fmt.Sprintf("%d", job.TenantID),
		job.Source.ChatTitle,
		fmt.Sprintf("%.6f", job.Decision.CostUSD),
	)
}

// GeneratedRow builds the "Generated Invoices" tab row.
func GeneratedRow(inv *database.GeneratedInvoice) []interface{} {
	return []interface{}{
		inv.InvoiceNumber,
		"'" + inv.Date, // display format DD/MM/YYYY
		inv.Customer.Name,
		inv.Customer.TaxID,
		inv.Description,
		fmt.Sprintf("%.2f", inv.Amount),
		inv.Currency,
		inv.PaymentMethod,
		inv.DocumentType,
		inv.GeneratedBy.Username,
		inv.StorageURL,
	}
}

// sheetDate prefixes dates with ' so the spreadsheet keeps them as text
// instead of converting to serial numbers.
func sheetDate(iso string) string {
	if strings.TrimSpace(iso) == "" {
		return ""
	}
	return "'" + iso
}

func amountCell(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
