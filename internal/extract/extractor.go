// Package extract turns the bytes of a financial document into plain text plus
// metadata. Each supported format is one Parser; the caller selects it by the
// declared format, never by sniffing content.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is a declared document format.
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatPDF, FormatDOCX, FormatXLSX, FormatXLS, FormatCSV}

// FormatFromPath maps a file extension to its Format.
func FormatFromPath(path string) (Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, f := range Formats {
		if string(f) == ext {
			return f, true
		}
	}
	return "", false
}

// Result is extracted text and format-specific metadata (author, title,
// page_count, sheet_names, column_names, failed_pages, ...).
type Result struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Parser extracts text from one document format.
type Parser interface {
	Format() Format
	Parse(content []byte) (*Result, error)
}

var parsers = map[Format]Parser{
	FormatText: plainParser{},
	FormatPDF:  pdfParser{},
	FormatDOCX: docxParser{},
	FormatXLSX: spreadsheetParser{format: FormatXLSX},
	FormatXLS:  spreadsheetParser{format: FormatXLS},
	FormatCSV:  csvParser{},
}

// ParserFor returns the parser registered for f.
func ParserFor(f Format) (Parser, error) {
	p, ok := parsers[f]
	if !ok {
		return nil, &ParseError{Format: f, Reason: "unsupported format"}
	}
	return p, nil
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and parses it according to its extension.
func (e *Extractor) Extract(path string) (*Result, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, &ParseError{Format: Format(strings.TrimPrefix(filepath.Ext(path), ".")), Reason: "unsupported extension"}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, format)
}

// ExtractBytes parses content as the given format. It never panics: parser
// panics on corrupt input are converted to a ParseError.
func (e *Extractor) ExtractBytes(content []byte, format Format) (res *Result, err error) {
	p, err := ParserFor(format)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &ParseError{Format: format, Reason: fmt.Sprintf("corrupt document: %v", r)}
		}
	}()
	if len(content) == 0 {
		return nil, &ParseError{Format: format, Reason: "empty file"}
	}
	res, err = p.Parse(content)
	if err != nil {
		return nil, err
	}
	res.Text = normalizeNewlines(res.Text)
	if strings.TrimSpace(res.Text) == "" {
		return nil, &ParseError{Format: format, Reason: "no extractable text"}
	}
	if res.Metadata == nil {
		res.Metadata = map[string]string{}
	}
	return res, nil
}

// normalizeNewlines converts CRLF and lone CR line endings to LF.
func normalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
