package rag

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MediaKind names a document format the extractor understands.
type MediaKind string

const (
	KindText     MediaKind = "text"
	KindMarkdown MediaKind = "markdown"
	KindCSV      MediaKind = "csv"
	KindPDF      MediaKind = "pdf"
	KindDOCX     MediaKind = "docx"
	KindImage    MediaKind = "image"
)

var kindByExt = map[string]MediaKind{
	".txt":      KindText,
	".text":     KindText,
	".log":      KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".csv":      KindCSV,
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".png":      KindImage,
	".jpg":      KindImage,
	".jpeg":     KindImage,
	".webp":     KindImage,
	".bmp":      KindImage,
	".tif":      KindImage,
	".tiff":     KindImage,
}

// Checked in order; the first MIME in a detected type's ancestry wins.
var kindByMIME = []struct {
	mime string
	kind MediaKind
}{
	{"application/pdf", KindPDF},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDOCX},
	{"image/png", KindImage},
	{"image/jpeg", KindImage},
	{"image/webp", KindImage},
	{"image/bmp", KindImage},
	{"image/tiff", KindImage},
	{"text/markdown", KindMarkdown},
	{"text/csv", KindCSV},
	{"text/plain", KindText},
}

// ParseMediaKind resolves a declared kind given as a kind name, a file
// extension or a MIME type. An empty or "auto" declaration is sniffed from
// data. Unknown declarations fail with ErrUnsupportedFormat.
func ParseMediaKind(declared string, data []byte) (MediaKind, error) {
	d := strings.ToLower(strings.TrimSpace(declared))

	switch d {
	case "", "auto":
		return SniffMediaKind(data)
	case string(KindText), string(KindMarkdown), string(KindCSV),
		string(KindPDF), string(KindDOCX), string(KindImage):
		return MediaKind(d), nil
	}

	if strings.Contains(d, "/") {
		if mt, _, err := mime.ParseMediaType(d); err == nil {
			d = mt
		}
		for _, e := range kindByMIME {
			if e.mime == d {
				return e.kind, nil
			}
		}
		if strings.HasPrefix(d, "image/") {
			return KindImage, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, declared)
	}

	ext := d
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if k, ok := kindByExt[ext]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, declared)
}

// KindFromFilename maps a file name's extension to a kind, or "" if unknown.
func KindFromFilename(name string) MediaKind {
	return kindByExt[strings.ToLower(filepath.Ext(name))]
}

// SniffMediaKind detects the kind from content.
func SniffMediaKind(data []byte) (MediaKind, error) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, e := range kindByMIME {
			if m.Is(e.mime) {
				return e.kind, nil
			}
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, detected.String())
}
