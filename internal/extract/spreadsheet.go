package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// oleMagic starts every legacy BIFF (.xls) workbook.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type spreadsheetParser struct {
	format Format
}

func (p spreadsheetParser) Format() Format { return p.format }

// Parse renders every sheet as a "--- Sheet: name ---" block. The first
// non-empty row is the header; each later row becomes "col: value; col: value"
// so the numbers keep their column names once chunked.
func (p spreadsheetParser) Parse(content []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		if bytes.HasPrefix(content, oleMagic) {
			return nil, parseErr(p.format, "legacy binary workbook is not supported, re-save as .xlsx", err)
		}
		return nil, parseErr(p.format, "cannot open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var buf strings.Builder
	totalRows := 0
	var columns []string
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, parseErr(p.format, fmt.Sprintf("cannot read sheet %q", sheet), err)
		}
		header, body := splitHeader(rows)
		if header == nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		fmt.Fprintf(&buf, "--- Sheet: %s ---\n", sheet)
		fmt.Fprintf(&buf, "Columns: %s\n", strings.Join(header, ", "))
		for _, row := range body {
			if line := labeledRow(header, row, ": ", "; "); line != "" {
				buf.WriteString(line)
				buf.WriteByte('\n')
				totalRows++
			}
		}
		columns = appendColumns(columns, header)
	}

	return &Result{
		Text: strings.TrimSpace(buf.String()),
		Metadata: map[string]string{
			"sheet_names":  strings.Join(sheets, ","),
			"sheet_count":  strconv.Itoa(len(sheets)),
			"row_count":    strconv.Itoa(totalRows),
			"column_names": strings.Join(columns, ","),
		},
	}, nil
}

// splitHeader returns the first row with any non-blank cell and the rows after it.
func splitHeader(rows [][]string) ([]string, [][]string) {
	for i, row := range rows {
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				header := make([]string, len(row))
				for j, h := range row {
					header[j] = strings.TrimSpace(h)
					if header[j] == "" {
						header[j] = "Column " + strconv.Itoa(j+1)
					}
				}
				return header, rows[i+1:]
			}
		}
	}
	return nil, nil
}

// labeledRow pairs cells with their column names, skipping blank cells.
// Cells beyond the header get positional names.
func labeledRow(header, row []string, kv, sep string) string {
	parts := make([]string, 0, len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		name := "Column " + strconv.Itoa(i+1)
		if i < len(header) {
			name = header[i]
		}
		parts = append(parts, name+kv+cell)
	}
	return strings.Join(parts, sep)
}

func appendColumns(dst, cols []string) []string {
	for _, c := range cols {
		found := false
		for _, d := range dst {
			if d == c {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, c)
		}
	}
	return dst
}
