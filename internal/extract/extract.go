// Package extract pulls plain text out of uploaded documents locally,
// without a model call. PDFs are read page by page; DOCX files are
// converted to plain text before the analysis request since the model
// endpoint does not accept WordprocessingML.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MimeDocx is the declared MIME type of .docx uploads.
const MimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// PDFText extracts the plain text of every page of a PDF. Pages that fail
// to decode are skipped rather than failing the whole document.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	var content strings.Builder
	totalPages := r.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		content.WriteString(text)
		content.WriteString("\n")
	}

	if content.Len() == 0 {
		return "", fmt.Errorf("no extractable text in PDF (%d pages)", totalPages)
	}
	return content.String(), nil
}

// DocxText converts a .docx document to plain text. A .docx is a zip
// archive; the body text lives in word/document.xml, where each <w:t>
// element holds a text run and each <w:p> closes a paragraph.
func DocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("failed to open document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", fmt.Errorf("failed to read document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("docx archive has no word/document.xml")
	}

	var content strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				content.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				content.Write(t)
			}
		}
	}

	text := strings.TrimSpace(content.String())
	if text == "" {
		return "", fmt.Errorf("docx contained no text")
	}
	return text, nil
}
