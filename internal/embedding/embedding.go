// Package embedding turns request text into vectors for similarity ranking.
// The hashed bag-of-words embedder needs no network or model weights, so
// recall always has a working embedding path to degrade to.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder produces a fixed-dimension vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// DefaultDimensions is the vector size of the local hashed embedder.
const DefaultDimensions = 256

// HashEmbedder is a deterministic local embedder: tokens are hashed into a
// fixed number of buckets and the resulting vector is L2-normalized. Similar
// wording yields overlapping buckets, which is enough signal for
// nearest-episode recall without any external service.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dims)]++
	}
	normalize(vec)
	return vec, nil
}

// Tokenize lowercases and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths or
// zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
