package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"/drop/q3.PDF", FormatPDF, true},
		{"budget.xlsx", FormatXLSX, true},
		{"legacy.xls", FormatXLS, true},
		{"ledger.csv", FormatCSV, true},
		{"memo.docx", FormatDOCX, true},
		{"notes.txt", FormatText, true},
		{"slides.pptx", "", false},
		{"noext", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatFromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatFromPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParserFor(t *testing.T) {
	for _, f := range Formats {
		p, err := ParserFor(f)
		if err != nil {
			t.Fatalf("ParserFor(%q): %v", f, err)
		}
		if p.Format() != f {
			t.Errorf("parser for %q reports %q", f, p.Format())
		}
	}
	var pe *ParseError
	if _, err := ParserFor("rtf"); !errors.As(err, &pe) {
		t.Errorf("expected ParseError for unsupported format, got %v", err)
	}
}

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\r\nLine 2"), FormatText)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Hello world\nLine 2" {
		t.Errorf("got %q", got.Text)
	}
	if got.Metadata["encoding"] != "utf-8" {
		t.Errorf("encoding = %q", got.Metadata["encoding"])
	}
}

func TestExtractBytes_plainLatin1(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("caf\xe9 budget"), FormatText)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "café budget" {
		t.Errorf("got %q", got.Text)
	}
	if got.Metadata["encoding"] != "latin-1" {
		t.Errorf("encoding = %q", got.Metadata["encoding"])
	}
}

func TestDecodeText_latin1Symbols(t *testing.T) {
	text, enc := decodeText([]byte("Total \xa3100 \xbd spent \xa9 2024"))
	if enc != "latin-1" {
		t.Fatalf("encoding = %q", enc)
	}
	if text != "Total £100 ½ spent © 2024" {
		t.Errorf("got %q", text)
	}
	if !utf8.ValidString(text) {
		t.Errorf("decoded text is not valid UTF-8")
	}
}

func TestExtractBytes_emptyAndBlank(t *testing.T) {
	e := NewExtractor()
	for _, content := range [][]byte{nil, []byte("   \n\t ")} {
		_, err := e.ExtractBytes(content, FormatText)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("expected ParseError for %q, got %v", content, err)
		}
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Category")
	f.SetCellValue("Sheet1", "B1", "Amount")
	f.SetCellValue("Sheet1", "A2", "Marketing")
	f.SetCellValue("Sheet1", "B2", "40000")
	f.SetCellValue("Sheet1", "A3", "Operations")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), FormatXLSX)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "--- Sheet: Sheet1 ---\nColumns: Category, Amount\nCategory: Marketing; Amount: 40000\nCategory: Operations"
	if got.Text != want {
		t.Errorf("got %q\nwant %q", got.Text, want)
	}
	if got.Metadata["sheet_names"] != "Sheet1" || got.Metadata["row_count"] != "2" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestExtractBytes_xlsLegacyBinary(t *testing.T) {
	content := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 512)...)
	_, err := NewExtractor().ExtractBytes(content, FormatXLS)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Format != FormatXLS || !strings.Contains(pe.Reason, "legacy") {
		t.Errorf("unexpected error %v", pe)
	}
}

func TestExtractBytes_csv(t *testing.T) {
	content := []byte("Category,Line Item,Amount\nMarketing,Social Media Advertising,10000\n\nR&D,Prototyping,\n")
	got, err := NewExtractor().ExtractBytes(content, FormatCSV)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Columns: Category, Line Item, Amount\n" +
		"Row 1: Category is Marketing; Line Item is Social Media Advertising; Amount is 10000.\n" +
		"Row 2: Category is R&D; Line Item is Prototyping."
	if got.Text != want {
		t.Errorf("got %q\nwant %q", got.Text, want)
	}
	if got.Metadata["row_count"] != "2" || got.Metadata["column_names"] != "Category,Line Item,Amount" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestExtractBytes_csvSemicolon(t *testing.T) {
	got, err := NewExtractor().ExtractBytes([]byte("a;b\n1;2\n"), FormatCSV)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got.Text, "Row 1: a is 1; b is 2.") {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_csvMalformed(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("a,b\n\"unterminated,2\nx"), FormatCSV)
	// LazyQuotes accepts stray quotes; a broken trailing quote still yields rows or a ParseError, never a panic.
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("expected ParseError, got %v", err)
		}
	}
}

func minimalDocx(documentXML string, extra map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("word/document.xml")
	_, _ = f.Write([]byte(documentXML))
	for name, body := range extra {
		f, _ := w.Create(name)
		_, _ = f.Write([]byte(body))
	}
	_ = w.Close()
	return buf.Bytes()
}

const docxBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p w:rsidR="00AB"><w:r><w:t xml:space="preserve">Q3 budget </w:t></w:r><w:r><w:t>memo</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Category</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Amount</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>Marketing</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>40000</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
<w:p><w:r><w:t>Approved.</w:t></w:r></w:p>
</w:body></w:document>`

func TestExtractBytes_docx(t *testing.T) {
	core := `<?xml version="1.0"?><cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/"><dc:title>Q3 Memo</dc:title><dc:creator>Finance Team</dc:creator><dcterms:created>2024-07-01T00:00:00Z</dcterms:created></cp:coreProperties>`
	content := minimalDocx(docxBody, map[string]string{"docProps/core.xml": core})
	got, err := NewExtractor().ExtractBytes(content, FormatDOCX)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Q3 budget memo\nCategory | Amount\nMarketing | 40000\nApproved."
	if got.Text != want {
		t.Errorf("got %q\nwant %q", got.Text, want)
	}
	if got.Metadata["title"] != "Q3 Memo" || got.Metadata["author"] != "Finance Team" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.Metadata["table_count"] != "1" {
		t.Errorf("table_count = %q", got.Metadata["table_count"])
	}
}

func TestExtractBytes_docxWithContentTypes(t *testing.T) {
	ct := `<?xml version="1.0"?><Types><Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/></Types>`
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create(contentTypesPath)
	_, _ = f.Write([]byte(ct))
	f, _ = w.Create("word/document2.xml")
	_, _ = f.Write([]byte(`<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>Relocated body</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), FormatDOCX)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Relocated body" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_docxCorrupt(t *testing.T) {
	e := NewExtractor()
	tests := map[string][]byte{
		"not a zip":        []byte("PK but not really"),
		"missing document": minimalDocxWithout(),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.ExtractBytes(content, FormatDOCX)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.Format != FormatDOCX {
				t.Errorf("format = %q", pe.Format)
			}
		})
	}
}

func minimalDocxWithout() []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("word/other.xml")
	_, _ = f.Write([]byte("<x/>"))
	_ = w.Close()
	return buf.Bytes()
}

// minimalPDF writes a valid uncompressed PDF with one Helvetica text line per page.
func minimalPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestExtractBytes_pdf(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(minimalPDF("Revenue", "Expenses"), FormatPDF)
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got.Text, "Revenue") || !strings.Contains(got.Text, "Expenses") {
		t.Errorf("got %q", got.Text)
	}
	if got.Metadata["page_count"] != "2" {
		t.Errorf("page_count = %q", got.Metadata["page_count"])
	}
	if _, ok := got.Metadata["failed_pages"]; ok {
		t.Errorf("no page should fail: %v", got.Metadata)
	}
}

func TestExtractBytes_pdfCorrupt(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("%PDF-1.4\nthis is not a pdf"), FormatPDF)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Format != FormatPDF {
		t.Errorf("format = %q", pe.Format)
	}
}

func TestAssemblePages_partial(t *testing.T) {
	text, failed := assemblePages(3, func(i int) (string, error) {
		if i == 2 {
			return "", errors.New("bad content stream")
		}
		return fmt.Sprintf(" page %d ", i), nil
	})
	if text != "page 1\n\npage 3" {
		t.Errorf("text = %q", text)
	}
	if len(failed) != 1 || failed[0] != "2" {
		t.Errorf("failed = %v", failed)
	}
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "File content" {
		t.Errorf("got %q", got.Text)
	}

	if _, err := NewExtractor().Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	var pe *ParseError
	if _, err := NewExtractor().Extract(filepath.Join(dir, "deck.pptx")); !errors.As(err, &pe) {
		t.Errorf("expected ParseError for unsupported extension, got %v", err)
	}
}

func TestParseError(t *testing.T) {
	err := parseErr(FormatCSV, "malformed delimited text", errors.New("line 3"))
	if !strings.Contains(err.Error(), "csv") || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("Error() = %q", err.Error())
	}
	if strings.Contains(err.UserMessage(), "line 3") {
		t.Errorf("UserMessage leaks cause: %q", err.UserMessage())
	}
	if errors.Unwrap(err) == nil {
		t.Error("cause should unwrap")
	}
}
