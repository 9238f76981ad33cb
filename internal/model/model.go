package model

import (
	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

// Model is a differentiable classifier producing one score per class.
//
// Forward caches whatever Backward needs, so a Model serves one caller at a
// time. Backward accumulates parameter gradients and returns the gradient
// with respect to the last Forward input.
type Model interface {
	Forward(inputs *mat.Dense) (*mat.Dense, error)
	Backward(gradOut *mat.Dense) (*mat.Dense, error)
	Params() []*nn.Param
	InputSize() int
	NumClasses() int
}

// Predict runs a forward pass and returns the predicted class per row.
func Predict(m Model, inputs *mat.Dense) ([]int, error) {
	scores, err := m.Forward(inputs)
	if err != nil {
		return nil, err
	}
	return nn.Argmax(scores), nil
}
