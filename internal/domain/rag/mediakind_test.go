package rag

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestParseMediaKind(t *testing.T) {
	tests := []struct {
		declared string
		want     MediaKind
	}{
		{"pdf", KindPDF},
		{"TEXT", KindText},
		{"markdown", KindMarkdown},
		{".md", KindMarkdown},
		{"md", KindMarkdown},
		{"csv", KindCSV},
		{".DOCX", KindDOCX},
		{"jpeg", KindImage},
		{"application/pdf", KindPDF},
		{"text/plain; charset=utf-8", KindText},
		{"text/markdown", KindMarkdown},
		{"image/png", KindImage},
		{"image/gif", KindImage},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			got, err := ParseMediaKind(tt.declared, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMediaKindRejectsUnknown(t *testing.T) {
	for _, declared := range []string{"exe", ".zip", "application/zip", "video/mp4"} {
		_, err := ParseMediaKind(declared, []byte("hello"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat, declared)
	}
}

func TestSniffMediaKind(t *testing.T) {
	kind, err := ParseMediaKind("", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"))
	require.NoError(t, err)
	assert.Equal(t, KindPDF, kind)

	kind, err = ParseMediaKind("auto", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, KindImage, kind)

	kind, err = SniffMediaKind([]byte("just some plain words\n"))
	require.NoError(t, err)
	assert.Equal(t, KindText, kind)

	_, err = SniffMediaKind([]byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestKindFromFilename(t *testing.T) {
	assert.Equal(t, KindMarkdown, KindFromFilename("notes/README.MD"))
	assert.Equal(t, KindPDF, KindFromFilename("report.pdf"))
	assert.Equal(t, MediaKind(""), KindFromFilename("archive.tar.gz"))
}
