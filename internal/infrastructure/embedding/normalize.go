// Package embedding holds helpers shared by the embedder implementations.
package embedding

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// NormalizeL2 scales v in place to unit length. Zero vectors are left unchanged.
func NormalizeL2(v []float32) {
	sum := vek32.Dot(v, v)
	if sum == 0 {
		return
	}
	vek32.MulNumber_Inplace(v, float32(1/math.Sqrt(float64(sum))))
}
