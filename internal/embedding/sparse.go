package embedding

import (
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/cloo-solutions/taisearch/internal/domain"
)

var stopwords = toSet(strings.Fields(`
a about above after again against all am an and any are as at be because been
before being below between both but by can could did do does doing down during
each few for from further had has have having he her here hers herself him
himself his how i if in into is it its itself just me more most my myself no
nor not now of off on once only or other our ours ourselves out over own same
she should so some such than that the their theirs them themselves then there
these they this those through to too under until up very was we were what when
where which while who whom why will with would you your yours yourself
yourselves
`))

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// SparseEncoder is a hashed bag-of-words encoder. Tokens are lowercased
// letter and digit runs with stopwords removed; each maps to
// xxhash64(token) mod domain.SparseDimensions with weight 1+ln(tf), and
// the vector is L2-normalised.
type SparseEncoder struct{}

func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode returns nil when text has no indexable tokens.
func (e *SparseEncoder) Encode(text string) map[int32]float32 {
	tf := map[int32]int{}
	for _, tok := range Tokenize(text) {
		tf[TokenIndex(tok)]++
	}
	if len(tf) == 0 {
		return nil
	}

	out := make(map[int32]float32, len(tf))
	var norm float64
	for idx, n := range tf {
		w := 1 + math.Log(float64(n))
		out[idx] = float32(w)
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for idx, w := range out {
		out[idx] = float32(float64(w) / norm)
	}
	return out
}

// Tokenize splits text into lowercase tokens without stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenIndex is the sparse dimension of tok.
func TokenIndex(tok string) int32 {
	return int32(xxhash.Sum64String(tok) % domain.SparseDimensions)
}
