// Package pdfinfo inspects PDF files without rendering them.
package pdfinfo

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageCount reads the page count from a PDF's structure. Used when the
// statement record was created without one.
func PageCount(content []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF structure: %w", err)
	}
	n := reader.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("PDF reports %d pages", n)
	}
	return n, nil
}
