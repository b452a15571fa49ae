package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const extractionRules = `Tax names in both languages:
  GST or TPS: federal, about 5% of the subtotal, goes in "gst"
  QST or TVQ: Quebec, about 9.975% of the subtotal, goes in "qst"
  PST: other provinces, 6 to 10%, goes in "pst"
  HST: Ontario and the Atlantic provinces, 13 to 15%, goes in "hst"

French labels:
  SOUS-TOTAL means the subtotal (pre_tax)
  MONTANT DÛ, MONTANT TOTAL, TOTAL À PAYER and SOLDE mean the total
  REÇU and FACTURE mean the document is a receipt
  A comma can be the decimal point: 20,50 is 20.50

Finding the vendor, most reliable clue first:
  1. a web or email domain, for example virginplus.ca is Virgin Plus, bell.ca is Bell, hydroquebec.com is Hydro-Québec
  2. the business name in the header, letterhead or "From" line
  3. the GST/HST registration number (123456789 RT0001) belongs to the issuer
  4. the kind of bill: data, minutes or SMS point to a phone company, kWh or cubic metres to a utility
  5. only as a last resort, the kind of goods sold
  Drop store numbers ("HOME DEPOT #7038" is "Home Depot") and write the name without accents.
  Prefer the spelling of a known vendor when one matches.
  On marketplace receipts (eBay, Amazon, Etsy, PayPal) the vendor is the platform, never the seller.
  Names after "Sold by", "Ship to" or "Bill to" are sellers or buyers, never the vendor.

Choosing the date. Documents often show several dates; use the first that applies:
  1. Bill Date, Invoice Date, Date de facturation
  2. Transaction date, Date, Date d'achat, Purchased, especially next to a time
  3. Statement date or Issue date when there is no bill date
  4. an unlabelled date near the top next to a time
  Never use next bill or next payment dates, expiry or "valid until" dates, return-by or best-before dates, due dates (date d'échéance) or print dates.
  Write the date as YYYY-MM-DD.

Sanity checks on taxes. Set a tax to 0 when it is:
  gst above 8% of the total, qst above 13%, pst above 15%, hst above 20%, or any tax at or above the total.

Fields:
  is_receipt: true for anything recording money paid or owed, including invoices, phone and utility bills, fines, payment confirmations and government fees
  vendor: the organization that issued the document
  total: the final amount including every tax
  pre_tax: the subtotal before taxes; if not printed, total minus the taxes
  currency: "CAD" unless another currency is printed
  confidence: 0.9 or more only when vendor, date and total are all clear, about 0.5 when one of them is missing`

const answerShape = `Answer with one JSON object and nothing else, no markdown, shaped like this:
{
  "is_receipt": true,
  "date": "YYYY-MM-DD",
  "vendor": "string",
  "total": 0.00,
  "gst": 0.00,
  "qst": 0.00,
  "pst": 0.00,
  "hst": 0.00,
  "pre_tax": 0.00,
  "currency": "CAD",
  "confidence": 0.0
}`

const correctionPrompt = `The answer above could not be read as JSON. Reply with a single JSON object only, starting with { and ending with }.
Keys: is_receipt (boolean), date (string or null), vendor (string or null), total, gst, qst, pst, hst and pre_tax (numbers), currency (string), confidence (number).
Every tax must be smaller than the total.`

var fieldHints = map[string]string{
	"vendor": "vendor: the business or organization that issued the document. Look at domains, the letterhead and the first lines.",
	"date":   "date: the transaction or bill date only, not an expiry or next billing date.",
	"total":  "total: the final amount paid, usually the largest labelled amount near the bottom.",
}

// extractionPrompt builds the main prompt.
func extractionPrompt(text string, vendorHints []string, detContext string) string {
	hints := "(none yet)"
	if len(vendorHints) > 0 {
		lines := make([]string, len(vendorHints))
		for i, v := range vendorHints {
			lines[i] = "- " + v
		}
		hints = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("Extract the receipt data from the Canadian receipt below. It may be in English, French or both.\n\n")
	fmt.Fprintf(&b, "Receipt text:\n---\n%s\n---\n\n", text)
	fmt.Fprintf(&b, "Vendors already on file, for spelling:\n%s\n\n", hints)
	b.WriteString(extractionRules)
	b.WriteString("\n\n")
	b.WriteString(detContext)
	b.WriteString("\n\n")
	b.WriteString(answerShape)
	return b.String()
}

// retryPrompt repeats the original prompt and shows the model its bad
// answer.
func retryPrompt(original, bad string) string {
	return fmt.Sprintf("%s\n\nYour previous attempt produced invalid output:\n%s\n\n%s\nRespond with ONLY valid JSON:", original, bad, correctionPrompt)
}

// secondPassPrompt asks only for the missing fields.
func secondPassPrompt(text string, missing []string) string {
	focus := make([]string, 0, len(missing))
	keys := make([]string, 0, len(missing))
	for _, f := range missing {
		focus = append(focus, fieldHints[f])
		keys = append(keys, fmt.Sprintf("%q: null", f))
	}
	return fmt.Sprintf("Receipt text:\n---\n%s\n---\n\nMissing fields: %s\n%s\n\n"+
		"Return only JSON with exactly these keys: %s. Use null for anything you cannot find:\n{%s}",
		text, strings.Join(missing, ", "), strings.Join(focus, "\n"),
		strings.Join(missing, ", "), strings.Join(keys, ", "))
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
