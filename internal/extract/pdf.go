package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfParser struct{}

func (pdfParser) Format() Format { return FormatPDF }

// Parse extracts text page by page. Failed pages are listed in the
// failed_pages metadata; the document fails only when no page succeeds.
func (pdfParser) Parse(content []byte) (*Result, error) {
	r, err := openPDF(content)
	if err != nil {
		return nil, parseErr(FormatPDF, "cannot open document", err)
	}
	numPages := r.NumPage()
	if numPages == 0 {
		return nil, parseErr(FormatPDF, "document has no pages", nil)
	}

	text, failed := assemblePages(numPages, func(i int) (string, error) { return pageText(r, i) })
	if len(failed) == numPages {
		return nil, parseErr(FormatPDF, "every page failed to extract", nil)
	}

	meta := map[string]string{"page_count": strconv.Itoa(numPages)}
	if len(failed) > 0 {
		meta["failed_pages"] = strings.Join(failed, ",")
	}
	for key, field := range map[string]string{"title": "Title", "author": "Author", "created": "CreationDate"} {
		if v := infoField(r, field); v != "" {
			meta[key] = v
		}
	}
	return &Result{Text: text, Metadata: meta}, nil
}

// assemblePages joins page texts with blank lines and returns the numbers of
// the pages that failed.
func assemblePages(numPages int, text func(int) (string, error)) (string, []string) {
	var buf strings.Builder
	var failed []string
	for i := 1; i <= numPages; i++ {
		t, err := text(i)
		if err != nil {
			failed = append(failed, strconv.Itoa(i))
			continue
		}
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(t)
	}
	return buf.String(), failed
}

func openPDF(content []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(content), int64(len(content)))
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", n, rec)
		}
	}()
	page := r.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing", n)
	}
	return page.GetPlainText(nil)
}

func infoField(r *pdf.Reader, field string) (v string) {
	defer func() {
		if recover() != nil {
			v = ""
		}
	}()
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	return strings.TrimSpace(info.Key(field).Text())
}
