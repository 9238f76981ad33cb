// Package attack produces adversarial inputs against a classifier.
package attack

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

// Inputs are normalised to [-1, 1]; perturbed inputs are clipped back into it.
const (
	pixelMin = -1.0
	pixelMax = 1.0
)

// Context tells an attacker whether it runs inside training or evaluation.
type Context struct {
	Epsilon   float64
	Optimizer nn.Optimizer
	Criterion nn.Criterion
	training  bool
}

// Train builds a training-time context. The attacker may update its own
// parameters and, when adversarial training is enabled, step the model
// through opt on the adversarial batch.
func Train(opt nn.Optimizer, criterion nn.Criterion) Context {
	return Context{Optimizer: opt, Criterion: criterion, training: true}
}

// Eval builds an evaluation-time context at a fixed perturbation magnitude.
func Eval(epsilon float64) Context {
	return Context{Epsilon: epsilon}
}

// Training reports whether c was built by Train.
func (c Context) Training() bool { return c.training }

// Result is the outcome of one Attack call.
type Result struct {
	Inputs *mat.Dense
	Labels []int
	// Unperturbed counts adversarial examples the model still classifies correctly.
	Unperturbed int
}

// Attacker is implemented by every attack strategy.
type Attacker interface {
	Name() string
	Attack(batch nn.Batch, m model.Model, ac Context) (Result, error)
	Perturb(inputs *mat.Dense, epsilon float64) (*mat.Dense, error)
	// Params returns the learned state, or nil for parameter-free attacks.
	Params() []*nn.Param
}

// Options configures any attacker built through New.
type Options struct {
	// TrainEpsilon is the magnitude used for training-time attacks.
	TrainEpsilon float64
	// TrainAdversarially steps the model on adversarial batches during training.
	TrainAdversarially bool
	LearningRate       float64
	Latent             int
	Steps              int
	Seed               int64
}

func (o *Options) applyDefaults() {
	if o.TrainEpsilon <= 0 {
		o.TrainEpsilon = 0.05
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 1e-3
	}
	if o.Latent <= 0 {
		o.Latent = 64
	}
	if o.Steps <= 0 {
		o.Steps = 7
	}
}

// New builds the attacker named kind against target.
func New(kind string, target model.Model, opts Options) (Attacker, error) {
	opts.applyDefaults()
	switch kind {
	case "generative":
		return NewGenerative(target.InputSize(), opts), nil
	case "fgsm":
		return NewFGSM(target, opts), nil
	case "pgd":
		return NewPGD(target, opts), nil
	case "cw":
		return NewCW(target, opts), nil
	default:
		return nil, fmt.Errorf("attack: unknown attacker kind %q", kind)
	}
}

// epsilonFor picks the magnitude to use for ac.
func epsilonFor(ac Context, trainEpsilon float64) float64 {
	if ac.Training() {
		return trainEpsilon
	}
	return ac.Epsilon
}

func criterionFor(ac Context) nn.Criterion {
	if ac.Criterion != nil {
		return ac.Criterion
	}
	return nn.CrossEntropy{}
}

// countCorrect classifies adv with m and returns the correct count and logits.
func countCorrect(m model.Model, adv *mat.Dense, labels []int) (int, *mat.Dense, error) {
	logits, err := m.Forward(adv)
	if err != nil {
		return 0, nil, err
	}
	return nn.CountCorrect(logits, labels), logits, nil
}

// inputGradient returns d loss / d inputs for m and leaves m's parameter
// gradients zeroed.
func inputGradient(m model.Model, criterion nn.Criterion, inputs *mat.Dense, labels []int) (*mat.Dense, error) {
	logits, err := m.Forward(inputs)
	if err != nil {
		return nil, err
	}
	_, grad, err := criterion.Loss(logits, labels)
	if err != nil {
		return nil, err
	}
	nn.ZeroGrad(m.Params())
	dx, err := m.Backward(grad)
	nn.ZeroGrad(m.Params())
	return dx, err
}

// adversarialStep trains m on the adversarial batch through the model optimizer.
func adversarialStep(m model.Model, ac Context, adv *mat.Dense, labels []int) error {
	if ac.Optimizer == nil {
		return fmt.Errorf("attack: adversarial training requires an optimizer")
	}
	ac.Optimizer.ZeroGrad()
	logits, err := m.Forward(adv)
	if err != nil {
		return err
	}
	_, grad, err := criterionFor(ac).Loss(logits, labels)
	if err != nil {
		return err
	}
	if _, err := m.Backward(grad); err != nil {
		return err
	}
	ac.Optimizer.Step()
	return nil
}

// signStep returns clip(x + step*sign(g)).
func signStep(x, g *mat.Dense, step float64) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		d := g.At(i, j)
		switch {
		case d > 0:
			return v + step
		case d < 0:
			return v - step
		}
		return v
	}, x)
	nn.Clip(out, pixelMin, pixelMax)
	return out
}
