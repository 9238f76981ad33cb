package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

type layer interface {
	forward(x *mat.Dense) (*mat.Dense, error)
	backward(g *mat.Dense) *mat.Dense
	params() []*nn.Param
}

// dense is a fully connected layer: y = x·Wᵀ + b.
type dense struct {
	weight *nn.Param
	bias   *nn.Param
	input  *mat.Dense
}

func newDense(name string, in, out int, rng *rand.Rand) *dense {
	d := &dense{
		weight: nn.NewParam(name+".weight", out, in),
		bias:   nn.NewParam(name+".bias", 1, out),
	}
	limit := math.Sqrt(6.0 / float64(in+out))
	w := d.weight.Value.RawMatrix().Data
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return d
}

func (d *dense) forward(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	out, in := d.weight.Value.Dims()
	if cols != in {
		return nil, fmt.Errorf("%w: %s expects %d inputs, got %d", nn.ErrShapeMismatch, d.weight.Name, in, cols)
	}
	y := mat.NewDense(rows, out, nil)
	y.Mul(x, d.weight.Value.T())
	nn.AddRowVector(y, d.bias.Value)
	d.input = x
	return y, nil
}

func (d *dense) backward(g *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(g.T(), d.input)
	d.weight.Grad.Add(d.weight.Grad, &dw)
	nn.AccumulateColumnSums(d.bias.Grad, g)

	rows, _ := g.Dims()
	_, in := d.weight.Value.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(g, d.weight.Value)
	return dx
}

func (d *dense) params() []*nn.Param {
	return []*nn.Param{d.weight, d.bias}
}

type relu struct {
	output *mat.Dense
}

func (r *relu) forward(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	r.output = y
	return y, nil
}

func (r *relu) backward(g *mat.Dense) *mat.Dense {
	rows, cols := g.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.Apply(func(i, j int, v float64) float64 {
		if r.output.At(i, j) > 0 {
			return v
		}
		return 0
	}, g)
	return dx
}

func (r *relu) params() []*nn.Param { return nil }
