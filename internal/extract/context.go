// Package extract implements the two model passes of the extraction
// pipeline: a whole-document context scan and per-page or per-chunk
// transaction extraction.
package extract

import (
	"context"
	"fmt"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

// ScanDocument runs the context pass over a whole multi-page document.
// Failure here loses context, not the run: any error degrades to a nil
// context plus a warning for the statement record.
func ScanDocument(ctx context.Context, model gemini.Invoker, docBytes []byte, mimeType string) (*domain.DocumentContext, gemini.TokenUsage, []string) {
	raw, usage, err := model.GenerateJSON(ctx, contextPrompt(), &gemini.DocumentPart{
		MIMEType: mimeType,
		Data:     docBytes,
	})
	if err != nil {
		return nil, usage, []string{fmt.Sprintf("document scan failed, extracting without cross-page context: %v", err)}
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return nil, usage, []string{fmt.Sprintf("document scan returned malformed JSON, extracting without cross-page context: %v", err)}
	}
	return decodeDocumentContext(obj), usage, nil
}
