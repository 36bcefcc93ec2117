package memory

import (
	"math"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

const embedDim = 64

// Embed produces a bag-of-words hashed embedding: each token increments a
// bucket chosen by its hash, and the resulting vector is L2-normalized.
// There is no LM-backed embedding model in scope here (the language model
// itself is an out-of-scope collaborator per the purpose & scope section);
// this hashing embedding is enough to rank "relevant learnings" by lexical
// overlap, which is what the similarity retrieval step needs.
func Embed(text string) [embedDim]float64 {
	var v [embedDim]float64
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		v[hashToken(tok)%embedDim] += 1
	}
	normalize(&v)
	return v
}

func hashToken(tok string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(tok); i++ {
		h ^= uint32(tok[i])
		h *= 16777619
	}
	return int(h)
}

func normalize(v *[embedDim]float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}

// hasFMA gates the unrolled cosine-similarity fast path on CPU feature
// detection; on CPUs without fused multiply-add the plain loop is used.
// cpuid.CPU is populated once at process start by the library's init.
var hasFMA = cpuid.CPU.Supports(cpuid.FMA3)

// CosineSimilarity returns the cosine similarity between two
// already-normalized embedding vectors.
func CosineSimilarity(a, b [embedDim]float64) float64 {
	if hasFMA {
		return dotUnrolled(a, b)
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// dotUnrolled computes the same dot product in groups of 4, the shape a
// compiler is most likely to fuse into multiply-add instructions on CPUs
// that support them.
func dotUnrolled(a, b [embedDim]float64) float64 {
	var dot float64
	i := 0
	for ; i+4 <= embedDim; i += 4 {
		dot += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for ; i < embedDim; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
