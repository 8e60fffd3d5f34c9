package loader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloo-solutions/taisearch/internal/domain"
)

var (
	pageNumberKeys = []string{"page_number", "page_numbers", "page_num", "page_nums", "page"}
	totalPageKeys  = []string{"total_pages", "total_page_count", "total_page_counts", "page_count"}

	chapterPattern      = regexp.MustCompile(`(?i)\bchapter\s*(\d+)\b`)
	sectionPattern      = regexp.MustCompile(`\d+(?:\.\d+)+`)
	queryChapterPattern = regexp.MustCompile(`(?i)chapters?\s*((?:\d+\s?[,and\s&]*)+)`)
	numberPattern       = regexp.MustCompile(`\d+`)
)

const maxRepeat = 3

// PageNumber reads the page number of a loaded document under any of the
// keys loaders are known to use.
func PageNumber(md map[string]any) (int, bool) {
	return firstInt(md, pageNumberKeys)
}

// TotalPages returns the first total page count found in docs.
func TotalPages(docs []Document) (int, bool) {
	for _, d := range docs {
		if n, ok := firstInt(d.Metadata, totalPageKeys); ok {
			return n, true
		}
	}
	return 0, false
}

func firstInt(md map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		v, ok := md[k]
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case []int:
		if len(t) > 0 {
			return t[0], true
		}
		return 0, false
	case []any:
		if len(t) > 0 {
			return toInt(t[0])
		}
		return 0, false
	}
	f, ok := toFloat(v)
	return int(f), ok
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Chapters returns the distinct chapter numbers mentioned in text, in order
// of first appearance.
func Chapters(text string) []string {
	var out []string
	for _, m := range chapterPattern.FindAllStringSubmatch(text, -1) {
		out = appendUnique(out, m[1])
	}
	return out
}

// Sections returns the distinct dotted section numbers in text, such as 2.1
// or 3.4.1, sorted.
func Sections(text string) []string {
	var out []string
	for _, m := range sectionPattern.FindAllString(text, -1) {
		out = appendUnique(out, m)
	}
	sort.Strings(out)
	return out
}

// QueryChapters extracts chapter numbers from phrases like
// "chapters 1, 2 and 3" or "chapter 4 & 5".
func QueryChapters(query string) []string {
	var out []string
	for _, m := range queryChapterPattern.FindAllStringSubmatch(query, -1) {
		for _, n := range numberPattern.FindAllString(m[1], -1) {
			out = appendUnique(out, n)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// CollapseRepeats shortens runs of the same whitespace or punctuation
// character to at most three.
func CollapseRepeats(text string) string {
	var (
		b    strings.Builder
		prev rune
		run  int
	)
	b.Grow(len(text))
	for _, r := range text {
		if r == prev && (unicode.IsSpace(r) || unicode.IsPunct(r)) {
			run++
			if run > maxRepeat {
				continue
			}
		} else {
			run = 1
		}
		prev = r
		b.WriteRune(r)
	}
	return b.String()
}

// BuildChunks turns split pieces into chunks owned by resource. Page and
// timing metadata is copied from each piece; the total page count is
// propagated onto every chunk unless the resource already carries one. A chunk that names no chapter inherits the
// last chapter seen before it.
func BuildChunks(resource *domain.Resource, pieces []Document, size domain.ChunkSize) []*domain.Chunk {
	total, hasTotal := TotalPages(pieces)

	chunks := make([]*domain.Chunk, 0, len(pieces))
	lastChapter := ""
	for _, p := range pieces {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		c := domain.NewChunk(resource, text, size)

		if hasTotal && resource.Metadata.TotalPageCount == nil {
			n := total
			c.Metadata.TotalPageCount = &n
		}
		if n, ok := PageNumber(p.Metadata); ok && n > 0 {
			c.Metadata.PageNumber = n
		}
		if st, ok := toFloat(p.Metadata[MetaStart]); ok {
			c.Metadata.StartTime = &st
		}
		if d, ok := toFloat(p.Metadata[MetaDuration]); ok {
			c.Metadata.Duration = &d
		}

		chapters := Chapters(text)
		if len(chapters) > 0 {
			lastChapter = chapters[len(chapters)-1]
		} else if lastChapter != "" {
			chapters = []string{lastChapter}
		}
		c.Metadata.Chapters = nonNil(chapters)
		c.Metadata.Sections = nonNil(Sections(text))

		chunks = append(chunks, c)
	}
	return chunks
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
