package extractor

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTextSize bounds extracted resume/vacancy text.
const MaxTextSize = 1 << 20

// ErrUnsupportedType is returned for files the extractor cannot read.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extractor pulls plain text out of an uploaded document.
type Extractor interface {
	ExtractText(filename string, r io.Reader) (string, error)
}

// PlainText reads UTF-8 text documents. Binary formats are rejected rather
// than garbled.
type PlainText struct{}

func NewPlainText() *PlainText {
	return &PlainText{}
}

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".text":     true,
	"":          true,
}

// ExtractText reads the document as UTF-8 text, trimming surrounding
// whitespace. Returns ErrUnsupportedType for unknown extensions or content
// that is not valid text.
func (p *PlainText) ExtractText(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !textExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxTextSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if len(data) > MaxTextSize {
		return "", fmt.Errorf("%s exceeds %d bytes", filename, MaxTextSize)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid utf-8 text", ErrUnsupportedType, filename)
	}
	return strings.TrimSpace(string(data)), nil
}
