package loader

import (
	"strings"
	"unicode/utf8"
)

// Separator sets, tried in order. Each separator stays attached to the
// start of the piece that follows it.
var (
	GenericSeparators = []string{"\n\n", "\n", " ", ""}

	MarkdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"```\n",
		"\n***\n", "\n---\n", "\n___\n",
		"\n\n", "\n", " ", "",
	}

	LatexSeparators = []string{
		"\n\\chapter{", "\n\\section{", "\n\\subsection{", "\n\\subsubsection{",
		"\n\\begin{enumerate}", "\n\\begin{itemize}", "\n\\begin{description}",
		"\n\\begin{list}", "\n\\begin{quote}", "\n\\begin{quotation}",
		"\n\\begin{verse}", "\n\\begin{verbatim}", "\n\\begin{align}",
		"$$", "$", " ", "",
	}

	HTMLSeparators = []string{
		"<body", "<div", "<p", "<br", "<li",
		"<h1", "<h2", "<h3", "<h4", "<h5", "<h6",
		"<span", "<table", "<tr", "<td", "<th", "<ul", "<ol",
		"<header", "<footer", "<nav", "<head", "<style", "<script", "<meta", "<title",
		"\n\n", "\n", " ", "",
	}
)

// RecursiveSplitter splits on the first separator present in the text and
// recurses with the remaining separators into pieces that are still too
// long. Adjacent small pieces are merged back up to the chunk size with the
// configured overlap.
type RecursiveSplitter struct {
	separators []string
}

func NewRecursiveSplitter(separators []string) *RecursiveSplitter {
	return &RecursiveSplitter{separators: separators}
}

func (s *RecursiveSplitter) Split(docs []Document, size SizeClass) []Document {
	var out []Document
	for _, d := range docs {
		for _, piece := range s.SplitText(d.Text, size) {
			out = append(out, Document{Text: piece, Metadata: copyMetadata(d.Metadata)})
		}
	}
	return out
}

// SplitText splits a single text.
func (s *RecursiveSplitter) SplitText(text string, size SizeClass) []string {
	return splitRecursive(text, s.separators, size)
}

func splitRecursive(text string, separators []string, size SizeClass) []string {
	separator := ""
	var rest []string
	if len(separators) > 0 {
		separator = separators[len(separators)-1]
	}
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < size.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, mergePieces(good, size)...)
			good = nil
		}
		if len(rest) == 0 {
			if p := strings.TrimSpace(piece); p != "" {
				final = append(final, p)
			}
			continue
		}
		final = append(final, splitRecursive(piece, rest, size)...)
	}
	if len(good) > 0 {
		final = append(final, mergePieces(good, size)...)
	}
	return final
}

func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

// mergePieces joins pieces into chunks of at most size.ChunkSize characters.
// When a chunk is emitted, pieces are dropped from its front until at most
// size.Overlap characters remain to start the next one.
func mergePieces(pieces []string, size SizeClass) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > size.ChunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > size.Overlap || (total+n > size.ChunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func copyMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
