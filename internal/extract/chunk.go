package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

// MaxChunkChars bounds the statement text sent in a single model call.
const MaxChunkChars = 50000

// ChunkCSV splits delimited text into near-equal row groups so no chunk
// exceeds MaxChunkChars. Content at or under the threshold stays one chunk.
// Rows are never split; a pathological single row larger than the threshold
// becomes its own oversized chunk.
func ChunkCSV(content string) []string {
	if len(content) <= MaxChunkChars {
		return []string{content}
	}

	lines := strings.Split(content, "\n")
	groups := (len(content) + MaxChunkChars - 1) / MaxChunkChars
	target := len(content)/groups + 1

	var chunks []string
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+len(line)+1 > target {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// ExtractChunk runs one pass-2 call over a CSV/spreadsheet text chunk.
// Chunks are numbered from zero and map to 1-based unit indexes.
func ExtractChunk(ctx context.Context, model gemini.Invoker, chunk string, index, total int) (*domain.PageResult, error) {
	raw, usage, err := model.GenerateJSON(ctx, chunkPrompt(chunk, index, total), nil)
	if err != nil {
		return nil, fmt.Errorf("extract chunk %d/%d: %w", index+1, total, err)
	}

	obj, decodeErr := decodeObject(raw)
	if decodeErr != nil {
		var repairUsage gemini.TokenUsage
		raw, repairUsage, err = model.GenerateJSON(ctx, repairPrompt(raw), nil)
		usage.Add(repairUsage)
		if err != nil {
			return nil, fmt.Errorf("extract chunk %d/%d: repair call: %w", index+1, total, err)
		}
		obj, err = decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("extract chunk %d/%d: response unusable after repair: %w", index+1, total, err)
		}
	}

	result := decodePageResult(obj, index+1)
	result.TokensInput = usage.Input
	result.TokensOutput = usage.Output
	return result, nil
}
