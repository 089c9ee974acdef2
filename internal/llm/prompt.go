package llm

// extractionPrompt asks for one consolidated record even when several page
// images are supplied. The schema mirrors Fields' json tags exactly.
const extractionPrompt = `You are an invoice data extractor. Examine the attached document image(s); multiple images are pages of the same document. Return ONLY a JSON object, no prose, no code fences, with exactly these keys:

{
  "is_invoice": boolean — true only if the document is an invoice, receipt, or tax invoice,
  "rejection_reason": string — when is_invoice is false, a short reason; otherwise empty,
  "vendor_name": string — the issuing business name as printed,
  "invoice_number": string — the document's own number, empty if none,
  "invoice_date": string — the invoice date as printed,
  "total_amount": number — the grand total including VAT, null if unreadable,
  "currency": string — ISO code or symbol as printed (e.g. "ILS", "₪", "USD"),
  "vat_amount": number — the VAT portion, null if not shown,
  "confidence": number between 0 and 1 — your confidence in the extracted values,
  "category": string — one of: Food, Transport, Office Supplies, Utilities, Professional Services, Marketing, Technology, Travel, Entertainment, Miscellaneous
}

The document may be in Hebrew or English. Extract values exactly as printed; do not convert currencies or compute missing totals.`

// USD per one million tokens, by model. Unknown models cost zero rather
// than failing the extraction.
var costPerMTok = map[string]struct{ in, out float64 }{
	"gemini-2.0-flash": {0.10, 0.40},
	"gemini-1.5-flash": {0.075, 0.30},
	"gpt-4o-mini":      {0.15, 0.60},
	"gpt-4o":           {2.50, 10.00},
}

func costUSD(model string, inputTokens, outputTokens int) float64 {
	c := costPerMTok[model]
	return (float64(inputTokens)*c.in + float64(outputTokens)*c.out) / 1e6
}
