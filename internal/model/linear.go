package model

import (
	"fmt"
	"math/rand"
)

// NewLinear constructs a softmax-regression classifier: one dense layer
// from pixels to class scores.
func NewLinear(numClasses, inputSize int, seed int64) *Network {
	if numClasses <= 0 {
		numClasses = 10
	}
	if inputSize <= 0 {
		inputSize = 64
	}
	rng := rand.New(rand.NewSource(seed))
	return &Network{
		inputSize:  inputSize,
		numClasses: numClasses,
		layers:     []layer{newDense("fc", inputSize, numClasses, rng)},
	}
}

// NewMLP constructs a ReLU perceptron with the given hidden widths.
func NewMLP(numClasses, inputSize int, hidden []int, seed int64) (*Network, error) {
	if numClasses <= 0 || inputSize <= 0 {
		return nil, fmt.Errorf("model: invalid mlp dims classes=%d inputs=%d", numClasses, inputSize)
	}
	rng := rand.New(rand.NewSource(seed))
	var layers []layer
	in := inputSize
	for i, width := range hidden {
		if width <= 0 {
			return nil, fmt.Errorf("model: hidden layer %d has width %d", i, width)
		}
		layers = append(layers, newDense(fmt.Sprintf("fc%d", i+1), in, width, rng), &relu{})
		in = width
	}
	layers = append(layers, newDense(fmt.Sprintf("fc%d", len(hidden)+1), in, numClasses, rng))
	return &Network{inputSize: inputSize, numClasses: numClasses, layers: layers}, nil
}
