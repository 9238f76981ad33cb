package nn

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch reports tensors whose dimensions do not line up.
var ErrShapeMismatch = errors.New("nn: shape mismatch")

// Shape describes a single image as channels x height x width.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

// Size is the flattened length of one example.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}

// Batch holds one minibatch. Each row of Inputs is a flattened CHW example.
type Batch struct {
	Inputs *mat.Dense
	Labels []int
	Shape  Shape
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int {
	if b.Inputs == nil {
		return 0
	}
	rows, _ := b.Inputs.Dims()
	return rows
}

// Validate checks that inputs, labels and shape agree.
func (b Batch) Validate() error {
	if b.Inputs == nil {
		return fmt.Errorf("%w: batch has no inputs", ErrShapeMismatch)
	}
	rows, cols := b.Inputs.Dims()
	if rows != len(b.Labels) {
		return fmt.Errorf("%w: %d inputs but %d labels", ErrShapeMismatch, rows, len(b.Labels))
	}
	if cols != b.Shape.Size() {
		return fmt.Errorf("%w: input width %d does not match shape %s", ErrShapeMismatch, cols, b.Shape)
	}
	return nil
}

// Param is a trainable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zeroed parameter of the given dimensions.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// Argmax returns the index of the highest score in every row.
func Argmax(scores *mat.Dense) []int {
	rows, _ := scores.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = floats.MaxIdx(scores.RawRowView(i))
	}
	return out
}

// CountCorrect returns how many rows of scores predict the matching label.
func CountCorrect(scores *mat.Dense, labels []int) int {
	correct := 0
	for i, p := range Argmax(scores) {
		if i < len(labels) && p == labels[i] {
			correct++
		}
	}
	return correct
}

// Clip bounds every element of m to [lo, hi] in place.
func Clip(m *mat.Dense, lo, hi float64) {
	m.Apply(func(_, _ int, v float64) float64 {
		return math.Max(lo, math.Min(hi, v))
	}, m)
}

// AddRowVector adds the single-row vector b to every row of m in place.
func AddRowVector(m *mat.Dense, b *mat.Dense) {
	rows, _ := m.Dims()
	bias := b.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(m.RawRowView(i), bias)
	}
}

// AccumulateColumnSums adds the column sums of g into the single-row dst.
func AccumulateColumnSums(dst *mat.Dense, g *mat.Dense) {
	rows, _ := g.Dims()
	acc := dst.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(acc, g.RawRowView(i))
	}
}
