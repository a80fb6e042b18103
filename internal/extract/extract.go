// Package extract turns uploaded files into plain text for embedding.
package extract

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	ContentTypeText = "text/plain"
	ContentTypePDF  = "application/pdf"
)

// ErrUnsupportedType is returned for files that are neither text nor PDF.
var ErrUnsupportedType = errors.New("unsupported file type (only PDF and TXT allowed)")

// DetectContentType normalises a declared Content-Type, falling back to the
// filename extension when the header is missing or generic.
func DetectContentType(filename, declared string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".txt":
			ct = ContentTypeText
		case ".pdf":
			ct = ContentTypePDF
		}
	}
	switch ct {
	case ContentTypeText, ContentTypePDF:
		return ct, nil
	}
	return "", ErrUnsupportedType
}

// Text returns the plain text of content. PDFs are read page by page; if the
// PDF cannot be parsed, the raw bytes are returned along with the parse error
// so the caller can decide whether to log it.
func Text(filename string, content []byte) (string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return string(content), nil
	}
	text, err := pdfText(content)
	if err != nil {
		return string(content), err
	}
	return text, nil
}

func pdfText(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}
