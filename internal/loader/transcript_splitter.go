package loader

import "strings"

// Transcript metadata keys.
const (
	MetaStart    = "start"
	MetaDuration = "duration"
)

// TranscriptSplitter aggregates consecutive caption fragments into chunks,
// keeping the first fragment's start time and the summed duration. Input
// without timing falls back to the generic recursive splitter. A single
// fragment longer than the chunk size is kept whole.
type TranscriptSplitter struct {
	fallback *RecursiveSplitter
}

func NewTranscriptSplitter() *TranscriptSplitter {
	return &TranscriptSplitter{fallback: NewRecursiveSplitter(GenericSeparators)}
}

func (s *TranscriptSplitter) Split(docs []Document, size SizeClass) []Document {
	for _, d := range docs {
		if _, ok := toFloat(d.Metadata[MetaStart]); !ok {
			return s.fallback.Split(docs, size)
		}
		if _, ok := toFloat(d.Metadata[MetaDuration]); !ok {
			return s.fallback.Split(docs, size)
		}
	}

	var (
		out      []Document
		agg      strings.Builder
		aggLen   int
		start    float64
		duration float64
		first    map[string]any
	)
	flush := func() {
		if aggLen == 0 {
			return
		}
		md := copyMetadata(first)
		md[MetaStart] = start
		md[MetaDuration] = duration
		out = append(out, Document{Text: agg.String(), Metadata: md})
		agg.Reset()
		aggLen = 0
	}

	for _, d := range docs {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		n := runeLen(text)
		st, _ := toFloat(d.Metadata[MetaStart])
		dur, _ := toFloat(d.Metadata[MetaDuration])

		if aggLen > 0 && aggLen+1+n <= size.ChunkSize {
			agg.WriteByte(' ')
			agg.WriteString(text)
			aggLen += 1 + n
			duration += dur
			continue
		}

		flush()
		agg.WriteString(text)
		aggLen = n
		start = st
		duration = dur
		first = d.Metadata
	}
	flush()
	return out
}
