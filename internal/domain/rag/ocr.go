package rag

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	applog "docsearch/internal/platform/log"
)

// OCRResult is the text an OCR engine recognized in one image.
type OCRResult struct {
	Text string
	// Confidence is the mean word confidence in [0,100].
	Confidence float64
	Words      int
}

// OCREngine recognizes text in an encoded PNG or JPEG image.
type OCREngine interface {
	Recognize(ctx context.Context, img []byte) (*OCRResult, error)
}

// prepareImage validates the image and re-encodes formats OCR engines
// handle poorly (bmp, tiff, webp) as PNG.
func prepareImage(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unreadable image: %w", err)
	}
	if format == "png" || format == "jpeg" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("re-encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}

// ── Tesseract CLI engine ─────────────────────────────────────

// TesseractEngine drives the tesseract command line tool and reads its TSV
// output, which carries per-word confidences.
type TesseractEngine struct {
	command   string
	languages string
}

// NewTesseractEngine creates the CLI engine. command defaults to "tesseract".
func NewTesseractEngine(command, languages string) *TesseractEngine {
	if command == "" {
		command = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	return &TesseractEngine{command: command, languages: languages}
}

// Available reports whether the tesseract binary is on PATH.
func (e *TesseractEngine) Available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, img []byte) (*OCRResult, error) {
	cmd := exec.CommandContext(ctx, e.command, "stdin", "stdout", "-l", e.languages, "tsv")
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited with %d: %s", e.command, exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return nil, fmt.Errorf("run %s: %w", e.command, err)
	}

	res, err := parseTesseractTSV(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	applog.Debug("[RAG/OCR] Image recognized", "words", res.Words, "confidence", res.Confidence)
	return res, nil
}

// parseTesseractTSV rebuilds text from tesseract's TSV rows. Words on the same
// line are joined by spaces, lines by newlines, paragraphs by blank lines.
// Rows with conf < 0 are layout rows and carry no word.
func parseTesseractTSV(data []byte) (*OCRResult, error) {
	const (
		colBlock = 2
		colPar   = 3
		colLine  = 4
		colConf  = 10
		colText  = 11
	)

	var (
		sb       strings.Builder
		confSum  float64
		words    int
		lastPara = ""
		lastLine = ""
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) <= colText {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[colText])
		if word == "" {
			continue
		}

		para := cols[colBlock] + "/" + cols[colPar]
		line := para + "/" + cols[colLine]
		switch {
		case words == 0:
		case para != lastPara:
			sb.WriteString("\n\n")
		case line != lastLine:
			sb.WriteByte('\n')
		default:
			sb.WriteByte(' ')
		}
		sb.WriteString(word)
		lastPara, lastLine = para, line

		confSum += conf
		words++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tesseract output: %w", err)
	}

	res := &OCRResult{Text: sb.String(), Words: words}
	if words > 0 {
		res.Confidence = confSum / float64(words)
	}
	return res, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
