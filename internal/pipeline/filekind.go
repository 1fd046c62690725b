package pipeline

import (
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// fileKind is the branch the orchestrator takes for a statement file.
type fileKind string

const (
	kindCSV         fileKind = "csv"
	kindSpreadsheet fileKind = "spreadsheet"
	kindPDF         fileKind = "pdf"
	kindImage       fileKind = "image"
	kindOFX         fileKind = "ofx"
	kindUnknown     fileKind = "unknown"
)

// detectFileKind inspects the record's declared type/MIME first and falls
// back to the filename extension.
func detectFileKind(rec *domain.StatementRecord) fileKind {
	declared := strings.ToLower(rec.FileType)
	if declared == "" {
		declared = strings.ToLower(rec.MIMEType)
	}
	switch {
	case strings.Contains(declared, "csv"):
		return kindCSV
	case strings.Contains(declared, "spreadsheet"), strings.Contains(declared, "excel"), strings.Contains(declared, "xlsx"):
		return kindSpreadsheet
	case strings.Contains(declared, "pdf"):
		return kindPDF
	case strings.Contains(declared, "image"), strings.Contains(declared, "png"), strings.Contains(declared, "jpeg"), strings.Contains(declared, "jpg"):
		return kindImage
	case strings.Contains(declared, "ofx"), strings.Contains(declared, "qfx"):
		return kindOFX
	}

	name := strings.ToLower(rec.OriginalFileName)
	switch {
	case strings.HasSuffix(name, ".csv"), strings.HasSuffix(name, ".txt"):
		return kindCSV
	case strings.HasSuffix(name, ".xlsx"), strings.HasSuffix(name, ".xls"):
		return kindSpreadsheet
	case strings.HasSuffix(name, ".pdf"):
		return kindPDF
	case strings.HasSuffix(name, ".png"), strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return kindImage
	case strings.HasSuffix(name, ".ofx"), strings.HasSuffix(name, ".qfx"):
		return kindOFX
	}
	return kindUnknown
}

// mimeForKind picks the inline-document MIME type sent to the model.
func mimeForKind(kind fileKind, rec *domain.StatementRecord) string {
	if kind == kindImage {
		if rec.MIMEType != "" {
			return rec.MIMEType
		}
		return "image/png"
	}
	return "application/pdf"
}
