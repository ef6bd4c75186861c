package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

const docxCorePropsPath = "docProps/core.xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

type docxParser struct{}

func (docxParser) Format() Format { return FormatDOCX }

// Parse renders each paragraph as a line and each table row as "cell | cell".
// Title, author and creation date come from docProps/core.xml when present.
func (docxParser) Parse(content []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, parseErr(FormatDOCX, "not a zip archive", err)
	}

	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return nil, parseErr(FormatDOCX, "missing "+docPath, err)
	}
	text, paragraphs, tables, err := renderDocumentXML(docXML)
	if err != nil {
		return nil, parseErr(FormatDOCX, "malformed document.xml", err)
	}

	meta := map[string]string{
		"paragraph_count": strconv.Itoa(paragraphs),
		"table_count":     strconv.Itoa(tables),
	}
	if coreXML, err := readZipFile(zr, docxCorePropsPath); err == nil {
		for k, v := range coreProperties(coreXML) {
			meta[k] = v
		}
	}
	return &Result{Text: text, Metadata: meta}, nil
}

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	content := string(data)
	if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

// renderDocumentXML walks the WordprocessingML token stream. Text runs (w:t)
// accumulate into the current paragraph; paragraphs inside a table cell
// accumulate into the cell; a finished row is emitted as one line.
func renderDocumentXML(data []byte) (string, int, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out        []string
		para       strings.Builder
		cell       []string
		row        []string
		inText     bool
		tableDepth int
		paragraphs int
		tables     int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tbl":
				tableDepth++
				tables++
			case "tr":
				row = row[:0]
			case "tc":
				cell = cell[:0]
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				line := strings.TrimSpace(para.String())
				para.Reset()
				if line == "" {
					continue
				}
				paragraphs++
				if tableDepth > 0 {
					cell = append(cell, line)
				} else {
					out = append(out, line)
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
			case "tr":
				if line := strings.Join(row, " | "); strings.TrimSpace(strings.ReplaceAll(line, "|", "")) != "" {
					out = append(out, line)
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(out, "\n"), paragraphs, tables, nil
}

// coreProperties reads dc:title, dc:creator and dcterms:created.
func coreProperties(data []byte) map[string]string {
	var props struct {
		Title   string `xml:"title"`
		Creator string `xml:"creator"`
		Created string `xml:"created"`
	}
	if err := xml.Unmarshal(data, &props); err != nil {
		return nil
	}
	meta := map[string]string{}
	if v := strings.TrimSpace(props.Title); v != "" {
		meta["title"] = v
	}
	if v := strings.TrimSpace(props.Creator); v != "" {
		meta["author"] = v
	}
	if v := strings.TrimSpace(props.Created); v != "" {
		meta["created"] = v
	}
	return meta
}
