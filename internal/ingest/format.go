package ingest

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/h2non/filetype"
	"golang.org/x/net/html"
)

// sniffLen is how much of a file is inspected for magic bytes and markup.
const sniffLen = 8192

var extensionFormats = map[string]domain.InputFormat{
	".tex":      domain.InputFormatLatex,
	".latex":    domain.InputFormatLatex,
	".markdown": domain.InputFormatMarkdown,
	".md":       domain.InputFormatMarkdown,
	".mkd":      domain.InputFormatMarkdown,
	".mdwn":     domain.InputFormatMarkdown,
	".mdown":    domain.InputFormatMarkdown,
	".mdtxt":    domain.InputFormatMarkdown,
	".mdtext":   domain.InputFormatMarkdown,
	".text":     domain.InputFormatMarkdown,
}

// DetectFormat classifies content by magic bytes, then by the extension of
// name, then by looking for HTML elements in the text, defaulting to generic
// text. Recognised binary types other than PDF are unsupported.
func DetectFormat(name string, head []byte) (domain.InputFormat, error) {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		if kind.Extension == "pdf" {
			return domain.InputFormatPDF, nil
		}
		return "", domain.ErrUnsupportedFormat.WithCause(
			&formatError{detected: kind.MIME.Value},
		)
	}

	if f, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f, nil
	}

	if looksLikeHTML(head) {
		return domain.InputFormatHTML, nil
	}

	return domain.InputFormatGenericText, nil
}

type formatError struct {
	detected string
}

func (e *formatError) Error() string {
	return "detected content type " + e.detected
}

// looksLikeHTML reports whether head contains at least one known HTML
// element tag.
func looksLikeHTML(head []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(head))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			if z.Token().DataAtom != 0 {
				return true
			}
		}
	}
}
