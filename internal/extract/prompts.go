package extract

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Prompt builders. Every prompt is a deterministic function of its typed
// inputs so runs are reproducible given the same model.

const transactionSchema = `Each transaction object must have these fields:
- "date": string, ISO format "YYYY-MM-DD" (empty string if not visible)
- "description": string
- "amount": number, the non-negative magnitude (sign goes in "type")
- "type": "credit" | "debit" | "continuation"
- "balance": number or null, the running balance after this transaction
- "reference": string or null
- "continuation": boolean, true if this row is the tail of a transaction
  started on an earlier page

Use type "continuation" for text at a page boundary that has no date or
amount of its own. Never omit a transaction because its description is
incomplete or continues elsewhere.`

// contextPrompt asks for the whole-document summary of pass 1.
func contextPrompt() string {
	return `You are a bank statement analyst. Examine the ENTIRE attached statement and return STRICT JSON only (no comments, no Markdown) with this shape:
{
  "totalPages": number,
  "periodStart": "YYYY-MM-DD" or "",
  "periodEnd": "YYYY-MM-DD" or "",
  "openingBalance": number or null,
  "closingBalance": number or null,
  "currency": string,
  "transactions": [
    {
      "page": number,
      "date": "YYYY-MM-DD" or "",
      "description": string,
      "amount": number,
      "continuesOnNextPage": boolean,
      "continuedFromPreviousPage": boolean
    }
  ],
  "multiPageTransactions": [
    {"description": string, "pages": [number]}
  ]
}

List EVERY visible transaction in "transactions", tagged with the page it
appears on. List in "multiPageTransactions" every transaction whose
description or amount straddles a page boundary.`
}

// pagePrompt asks for one page's transactions, enriched with whatever the
// context pass learned about this page.
func pagePrompt(page int, docCtx *domain.DocumentContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a bank statement parser. Extract ALL transactions from page %d of the attached statement.\n\n", page)
	b.WriteString(`Return STRICT JSON only (no comments, no Markdown) with this shape:
{
  "page": number,
  "transactions": [...],
  "openingBalance": number or null,
  "closingBalance": number or null,
  "periodStart": "YYYY-MM-DD" or "",
  "periodEnd": "YYYY-MM-DD" or "",
  "confidence": number between 0 and 1,
  "warnings": [string]
}

`)
	b.WriteString(transactionSchema)
	b.WriteString("\n")

	if summaries := docCtx.SummariesForPage(page); len(summaries) > 0 {
		b.WriteString("\nA document-wide scan attributed these transactions to this exact page; make sure each one appears in your output:\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "- %s %s %.2f\n", s.Date, s.Description, s.Amount)
		}
	}
	if docCtx.ContinuationInto(page) {
		fmt.Fprintf(&b, "\nWARNING: the previous page ends with a transaction that continues onto page %d. Capture the continuation text at the top of this page as a row with type \"continuation\".\n", page)
	}
	if spans := docCtx.SpansForPage(page); len(spans) > 0 {
		b.WriteString("\nThese transactions are known to span multiple pages including this one:\n")
		for _, m := range spans {
			fmt.Fprintf(&b, "- %q on pages %v\n", m.Description, m.Pages)
		}
	}
	return b.String()
}

// chunkPrompt asks for a CSV/spreadsheet text chunk's transactions.
func chunkPrompt(chunk string, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a bank statement parser. The text below is part %d of %d of a delimited bank statement export. Extract ALL transactions from it.\n\n", index+1, total)
	b.WriteString(`Return STRICT JSON only (no comments, no Markdown) with this shape:
{
  "transactions": [...],
  "openingBalance": number or null,
  "closingBalance": number or null,
  "periodStart": "YYYY-MM-DD" or "",
  "periodEnd": "YYYY-MM-DD" or "",
  "confidence": number between 0 and 1,
  "warnings": [string]
}

`)
	b.WriteString(transactionSchema)
	b.WriteString("\n\nStatement text:\n")
	b.WriteString(chunk)
	return b.String()
}

// repairPrompt wraps a malformed model response for the single retry.
func repairPrompt(broken string) string {
	return "The following text was supposed to be valid JSON but is not. Fix it and return ONLY the corrected JSON, nothing else:\n\n" + broken
}
