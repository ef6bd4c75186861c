package extract

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type plainParser struct{}

func (plainParser) Format() Format { return FormatText }

func (plainParser) Parse(content []byte) (*Result, error) {
	text, encoding := decodeText(content)
	return &Result{
		Text: text,
		Metadata: map[string]string{
			"encoding":   encoding,
			"line_count": strconv.Itoa(strings.Count(text, "\n") + 1),
		},
	}, nil
}

// decodeText returns content as a string. Content that is not valid UTF-8 is
// decoded as ISO-8859-1.
func decodeText(content []byte) (string, string) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content), "utf-8"
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "\uFFFD"), "utf-8"
	}
	return string(decoded), "latin-1"
}
