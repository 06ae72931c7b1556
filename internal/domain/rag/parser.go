package rag

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"

	applog "docsearch/internal/platform/log"
)

// ── Decoder interface ────────────────────────────────────────

// DecodeResult is the raw text a decoder produced, before normalization.
type DecodeResult struct {
	Text  string
	Pages int
}

// Decoder turns the bytes of one media kind into text.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*DecodeResult, error)
	// Kinds lists the media kinds this decoder handles.
	Kinds() []MediaKind
}

// ── Plain text ───────────────────────────────────────────────

// PlainTextDecoder reads text and CSV files.
type PlainTextDecoder struct{}

func (d *PlainTextDecoder) Kinds() []MediaKind {
	return []MediaKind{KindText, KindCSV}
}

func (d *PlainTextDecoder) Decode(_ context.Context, data []byte) (*DecodeResult, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return &DecodeResult{Text: text}, nil
}

// decodeText reads UTF-8, falling back to Latin-1 for anything else.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(out), nil
}

// ── Markdown ─────────────────────────────────────────────────

// MarkdownDecoder strips Markdown markup and keeps the prose.
type MarkdownDecoder struct{}

var (
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(.+?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownHTML   = regexp.MustCompile(`<[^>]+>`)
	reMarkdownRule   = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	reMarkdownQuote  = regexp.MustCompile(`(?m)^\s*>\s?`)
)

func (d *MarkdownDecoder) Kinds() []MediaKind {
	return []MediaKind{KindMarkdown}
}

func (d *MarkdownDecoder) Decode(_ context.Context, data []byte) (*DecodeResult, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	// Keep fenced code, drop the fences and the info string.
	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	})

	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHeader.ReplaceAllString(text, "")
	text = reMarkdownRule.ReplaceAllString(text, "")
	text = reMarkdownQuote.ReplaceAllString(text, "")
	text = reMarkdownHTML.ReplaceAllString(text, "")

	return &DecodeResult{Text: text}, nil
}

// ── PDF ──────────────────────────────────────────────────────

// PDFDecoder extracts the text layer of a PDF page by page.
type PDFDecoder struct{}

func (d *PDFDecoder) Kinds() []MediaKind {
	return []MediaKind{KindPDF}
}

func (d *PDFDecoder) Decode(ctx context.Context, data []byte) (*DecodeResult, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[RAG/PDF] Failed to extract page text", "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &DecodeResult{Text: sb.String(), Pages: pages}, nil
}

// ── DOCX ─────────────────────────────────────────────────────

// DOCXDecoder extracts paragraph text from a Word document.
type DOCXDecoder struct{}

func (d *DOCXDecoder) Kinds() []MediaKind {
	return []MediaKind{KindDOCX}
}

func (d *DOCXDecoder) Decode(_ context.Context, data []byte) (*DecodeResult, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	text, err := docxBodyText(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return &DecodeResult{Text: text}, nil
}

// docxBodyText walks word/document.xml: <w:t> runs carry text, paragraph
// ends become newlines, tabs and breaks become whitespace.
func docxBodyText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte(' ')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// ── Image ────────────────────────────────────────────────────

// ImageDecoder validates an image and hands it to an OCR engine.
type ImageDecoder struct {
	engine        OCREngine
	minConfidence float64
}

// NewImageDecoder creates an image decoder; results whose mean word
// confidence is below minConfidence are rejected.
func NewImageDecoder(engine OCREngine, minConfidence float64) *ImageDecoder {
	return &ImageDecoder{engine: engine, minConfidence: minConfidence}
}

func (d *ImageDecoder) Kinds() []MediaKind {
	return []MediaKind{KindImage}
}

func (d *ImageDecoder) Decode(ctx context.Context, data []byte) (*DecodeResult, error) {
	if d.engine == nil {
		return nil, extractionFailed(KindImage, "no OCR engine configured")
	}
	img, err := prepareImage(data)
	if err != nil {
		return nil, extractionFailed(KindImage, "%v", err)
	}

	res, err := d.engine.Recognize(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, extractionFailed(KindImage, "ocr: %v", err)
	}
	if res.Words == 0 {
		return nil, extractionFailed(KindImage, "ocr found no text")
	}
	if res.Confidence < d.minConfidence {
		return nil, extractionFailed(KindImage, "ocr confidence %.1f below floor %.1f", res.Confidence, d.minConfidence)
	}
	return &DecodeResult{Text: res.Text, Pages: 1}, nil
}
