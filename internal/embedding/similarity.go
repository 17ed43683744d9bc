package embedding

import (
	"math"

	"document-quiz/internal/errs"
)

type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
	Dot       Metric = "dot"
)

// Similarity compares two vectors of equal length.
//
//	cosine:    dot(a,b) / (|a|*|b|), 0 when either vector is all zeros
//	euclidean: 1 / (1 + |a-b|)
//	dot:       dot(a,b)
func Similarity(a, b []float32, metric Metric) (float64, error) {
	const op = "embedding.Similarity"
	if len(a) != len(b) {
		return 0, errs.New(errs.InvalidArgument, op, "vector length mismatch: %d != %d", len(a), len(b))
	}
	switch metric {
	case Cosine:
		return cosine(a, b), nil
	case Euclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum)), nil
	case Dot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot, nil
	default:
		return 0, errs.New(errs.InvalidArgument, op, "unknown similarity metric %q", metric)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push s just outside [-1, 1]
	return math.Max(-1, math.Min(1, s))
}
