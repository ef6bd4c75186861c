package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type csvParser struct{}

func (csvParser) Format() Format { return FormatCSV }

// Parse renders the header as "Columns: ..." and every row as a labeled
// sentence, "Row 3: Category is Marketing; Amount is 40000."
func (csvParser) Parse(content []byte) (*Result, error) {
	text, _ := decodeText(content)
	delim := sniffDelimiter(text)
	records, err := readCSV(text, delim)
	if err != nil {
		return nil, parseErr(FormatCSV, "malformed delimited text", err)
	}
	header, body := splitHeader(records)
	if header == nil {
		return nil, parseErr(FormatCSV, "no header row", nil)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "Columns: %s\n", strings.Join(header, ", "))
	rows := 0
	for _, rec := range body {
		line := labeledRow(header, rec, " is ", "; ")
		if line == "" {
			continue
		}
		rows++
		fmt.Fprintf(&buf, "Row %d: %s.\n", rows, line)
	}
	return &Result{
		Text: strings.TrimSpace(buf.String()),
		Metadata: map[string]string{
			"row_count":    strconv.Itoa(rows),
			"column_names": strings.Join(header, ","),
			"delimiter":    string(delim),
		},
	}, nil
}

func readCSV(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// sniffDelimiter picks the most frequent of comma, semicolon, tab and pipe
// on the first line. Comma wins ties.
func sniffDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	best, bestCount := ',', strings.Count(first, ",")
	for _, d := range []rune{';', '\t', '|'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
