package extract

import (
	"context"
	"fmt"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

// ExtractPage runs one pass-2 call for a single PDF page or image. docCtx
// may be nil (single-page documents, or a failed context pass). Malformed
// JSON gets exactly one repair round trip before the call errors out.
func ExtractPage(ctx context.Context, model gemini.Invoker, docBytes []byte, mimeType string, page int, docCtx *domain.DocumentContext) (*domain.PageResult, error) {
	raw, usage, err := model.GenerateJSON(ctx, pagePrompt(page, docCtx), &gemini.DocumentPart{
		MIMEType: mimeType,
		Data:     docBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page, err)
	}

	obj, decodeErr := decodeObject(raw)
	if decodeErr != nil {
		var repairUsage gemini.TokenUsage
		raw, repairUsage, err = model.GenerateJSON(ctx, repairPrompt(raw), nil)
		usage.Add(repairUsage)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: repair call: %w", page, err)
		}
		obj, err = decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: response unusable after repair: %w", page, err)
		}
	}

	result := decodePageResult(obj, page)
	result.TokensInput = usage.Input
	result.TokensOutput = usage.Output
	return result, nil
}
