package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

// Network chains layers into a feed-forward classifier.
type Network struct {
	inputSize  int
	numClasses int
	layers     []layer
	forwarded  bool
}

// Forward returns class scores for inputs and caches activations for Backward.
func (n *Network) Forward(inputs *mat.Dense) (*mat.Dense, error) {
	_, cols := inputs.Dims()
	if cols != n.inputSize {
		return nil, fmt.Errorf("%w: network expects %d inputs, got %d", nn.ErrShapeMismatch, n.inputSize, cols)
	}
	x := inputs
	for _, l := range n.layers {
		y, err := l.forward(x)
		if err != nil {
			return nil, err
		}
		x = y
	}
	n.forwarded = true
	return x, nil
}

// Backward accumulates parameter gradients for gradOut and returns the input gradient.
func (n *Network) Backward(gradOut *mat.Dense) (*mat.Dense, error) {
	if !n.forwarded {
		return nil, errors.New("model: backward called before forward")
	}
	_, cols := gradOut.Dims()
	if cols != n.numClasses {
		return nil, fmt.Errorf("%w: gradient has %d columns for %d classes", nn.ErrShapeMismatch, cols, n.numClasses)
	}
	g := gradOut
	for i := len(n.layers) - 1; i >= 0; i-- {
		g = n.layers[i].backward(g)
	}
	return g, nil
}

// Params returns every layer's parameters in order.
func (n *Network) Params() []*nn.Param {
	var out []*nn.Param
	for _, l := range n.layers {
		out = append(out, l.params()...)
	}
	return out
}

// InputSize and NumClasses report the network's outer dimensions.
func (n *Network) InputSize() int  { return n.inputSize }
func (n *Network) NumClasses() int { return n.numClasses }
