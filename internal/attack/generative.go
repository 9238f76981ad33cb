package attack

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

// Generative is a learned perturbation network:
//
//	h     = tanh(x·W1ᵀ + b1)
//	delta = tanh(h·W2ᵀ + b2)
//	x'    = clip(x + eps·delta)
//
// During training it ascends the target model's loss with its own Adam
// optimizer. At evaluation time its parameters are held fixed.
type Generative struct {
	opts    Options
	encode  *nn.Param
	encodeB *nn.Param
	decode  *nn.Param
	decodeB *nn.Param
	optim   *nn.Adam
}

// NewGenerative builds a generator for inputs of the given flattened size.
func NewGenerative(inputSize int, opts Options) *Generative {
	opts.applyDefaults()
	g := &Generative{
		opts:    opts,
		encode:  nn.NewParam("generator.encode.weight", opts.Latent, inputSize),
		encodeB: nn.NewParam("generator.encode.bias", 1, opts.Latent),
		decode:  nn.NewParam("generator.decode.weight", inputSize, opts.Latent),
		decodeB: nn.NewParam("generator.decode.bias", 1, inputSize),
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	for _, p := range []*nn.Param{g.encode, g.decode} {
		rows, cols := p.Value.Dims()
		limit := math.Sqrt(6.0 / float64(rows+cols))
		w := p.Value.RawMatrix().Data
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * limit
		}
	}
	g.optim = nn.NewAdam(g.Params(), opts.LearningRate)
	return g
}

// Name identifies the attacker in logs and result rows.
func (g *Generative) Name() string { return "generative" }

// Params returns the encoder and decoder weights and biases.
func (g *Generative) Params() []*nn.Param {
	return []*nn.Param{g.encode, g.encodeB, g.decode, g.decodeB}
}

type generatorPass struct {
	hidden *mat.Dense
	delta  *mat.Dense
	adv    *mat.Dense
}

func (g *Generative) forward(x *mat.Dense, eps float64) (generatorPass, error) {
	rows, cols := x.Dims()
	_, inputSize := g.encode.Value.Dims()
	if cols != inputSize {
		return generatorPass{}, fmt.Errorf("%w: generator expects %d inputs, got %d", nn.ErrShapeMismatch, inputSize, cols)
	}
	hidden := mat.NewDense(rows, g.opts.Latent, nil)
	hidden.Mul(x, g.encode.Value.T())
	nn.AddRowVector(hidden, g.encodeB.Value)
	hidden.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, hidden)

	delta := mat.NewDense(rows, cols, nil)
	delta.Mul(hidden, g.decode.Value.T())
	nn.AddRowVector(delta, g.decodeB.Value)
	delta.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, delta)

	adv := mat.NewDense(rows, cols, nil)
	adv.Apply(func(i, j int, v float64) float64 { return v + eps*delta.At(i, j) }, x)
	nn.Clip(adv, pixelMin, pixelMax)
	return generatorPass{hidden: hidden, delta: delta, adv: adv}, nil
}

// Perturb runs the generator on inputs at magnitude epsilon.
func (g *Generative) Perturb(inputs *mat.Dense, epsilon float64) (*mat.Dense, error) {
	pass, err := g.forward(inputs, epsilon)
	if err != nil {
		return nil, err
	}
	return pass.adv, nil
}

// Attack perturbs the batch and, under a training context, takes an ascent
// step on the generator.
func (g *Generative) Attack(batch nn.Batch, m model.Model, ac Context) (Result, error) {
	if err := batch.Validate(); err != nil {
		return Result{}, err
	}
	eps := epsilonFor(ac, g.opts.TrainEpsilon)
	pass, err := g.forward(batch.Inputs, eps)
	if err != nil {
		return Result{}, err
	}
	correct, logits, err := countCorrect(m, pass.adv, batch.Labels)
	if err != nil {
		return Result{}, err
	}
	if ac.Training() {
		if err := g.learn(m, criterionFor(ac), batch.Inputs, pass, logits, batch.Labels, eps); err != nil {
			return Result{}, err
		}
		if g.opts.TrainAdversarially {
			if err := adversarialStep(m, ac, pass.adv, batch.Labels); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{Inputs: pass.adv, Labels: batch.Labels, Unperturbed: correct}, nil
}

// learn takes one Adam step that increases the model's loss on the
// generated batch. Gradients do not flow through clipped elements.
func (g *Generative) learn(m model.Model, criterion nn.Criterion, x *mat.Dense, pass generatorPass, logits *mat.Dense, labels []int, eps float64) error {
	_, gradLogits, err := criterion.Loss(logits, labels)
	if err != nil {
		return err
	}
	nn.ZeroGrad(m.Params())
	gradAdv, err := m.Backward(gradLogits)
	nn.ZeroGrad(m.Params())
	if err != nil {
		return err
	}

	rows, cols := x.Dims()
	// Ascent on the model loss is descent on its negation.
	dz2 := mat.NewDense(rows, cols, nil)
	dz2.Apply(func(i, j int, v float64) float64 {
		a := pass.adv.At(i, j)
		if a <= pixelMin || a >= pixelMax {
			return 0
		}
		d := pass.delta.At(i, j)
		return -v * eps * (1 - d*d)
	}, gradAdv)

	g.optim.ZeroGrad()
	var dw2 mat.Dense
	dw2.Mul(dz2.T(), pass.hidden)
	g.decode.Grad.Add(g.decode.Grad, &dw2)
	nn.AccumulateColumnSums(g.decodeB.Grad, dz2)

	dz1 := mat.NewDense(rows, g.opts.Latent, nil)
	dz1.Mul(dz2, g.decode.Value)
	dz1.Apply(func(i, j int, v float64) float64 {
		h := pass.hidden.At(i, j)
		return v * (1 - h*h)
	}, dz1)
	var dw1 mat.Dense
	dw1.Mul(dz1.T(), x)
	g.encode.Grad.Add(g.encode.Grad, &dw1)
	nn.AccumulateColumnSums(g.encodeB.Grad, dz1)

	g.optim.Step()
	return nil
}
