package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimension = 256

// Hash is a deterministic feature-hash embedder: each token lands in an
// fnv-addressed bucket and the vector is L2-normalized. Quality is far
// below a learned model, but it is stable, offline, and good enough for
// tests and degraded operation.
type Hash struct {
	dimension int
}

// NewHash creates a hash embedder. dimension <= 0 uses the default.
func NewHash(dimension int) *Hash {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &Hash{dimension: dimension}
}

// Embed hashes each text into a normalized bucket-count vector.
func (p *Hash) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

func (p *Hash) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(p.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Dimension reports the fixed vector size.
func (p *Hash) Dimension() int { return p.dimension }
