package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var ErrExtraction = errors.New("text extraction failed")

// OCR recognizes text in a document image. Implementations are external
// collaborators (see internal/pkg/ocr); the extractor only consults one when
// primary extraction yields empty text.
type OCR interface {
	Recognize(ctx context.Context, data []byte) (string, error)
}

// Extractor turns a raw document buffer into plain text. Warnings carry
// page-level or recoverable problems; a non-nil error means the whole document
// is unreadable in a way the caller should treat as fatal for that document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string, useOCR bool) (string, []string, error)
}

type Service struct {
	ocr OCR
}

// NewService builds an extractor. ocr may be nil, in which case the OCR
// fallback is skipped.
func NewService(ocr OCR) *Service {
	return &Service{ocr: ocr}
}

func (s *Service) Extract(ctx context.Context, data []byte, contentType string, useOCR bool) (string, []string, error) {
	switch contentType {
	case "application/pdf":
		text, warnings := extractPDF(data)
		if text == "" && useOCR && s.ocr != nil {
			recovered, err := s.ocr.Recognize(ctx, data)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("ocr fallback failed: %v", err))
			} else {
				text = strings.TrimSpace(recovered)
			}
		}
		return text, warnings, nil
	case "text/plain", "text/markdown":
		if !utf8.Valid(data) {
			return "", nil, fmt.Errorf("%w: invalid utf-8 in %s body", ErrExtraction, contentType)
		}
		return strings.TrimSpace(string(data)), nil, nil
	default:
		return "", []string{fmt.Sprintf("unsupported content type %q", contentType)}, nil
	}
}

// extractPDF walks pages in order and concatenates per-page text with a blank
// line between pages, so downstream chunking keeps page boundaries. A broken
// page is a warning, not a document failure.
func extractPDF(data []byte) (string, []string) {
	var warnings []string

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", []string{fmt.Sprintf("open pdf: %v", err)}
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n"), warnings
}

// pageText isolates one page extraction. ledongthuc/pdf panics on some damaged
// content streams, so the recover here keeps a single bad page from taking the
// document down.
func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page extraction panicked: %v", r)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return "", errors.New("page object missing")
	}
	return page.GetPlainText(nil)
}
