package attack

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

// FGSM is the fast gradient sign method: x' = clip(x + eps·sign(∇x loss)).
type FGSM struct {
	target model.Model
	opts   Options
}

// NewFGSM returns an FGSM attacker whose Perturb targets target.
func NewFGSM(target model.Model, opts Options) *FGSM {
	opts.applyDefaults()
	return &FGSM{target: target, opts: opts}
}

// Name and Params satisfy Attacker; FGSM has no learned state.
func (f *FGSM) Name() string        { return "fgsm" }
func (f *FGSM) Params() []*nn.Param { return nil }

// Attack perturbs batch against m and counts the survivors.
func (f *FGSM) Attack(batch nn.Batch, m model.Model, ac Context) (Result, error) {
	if err := batch.Validate(); err != nil {
		return Result{}, err
	}
	eps := epsilonFor(ac, f.opts.TrainEpsilon)
	adv, err := fgsm(m, criterionFor(ac), batch.Inputs, batch.Labels, eps)
	if err != nil {
		return Result{}, err
	}
	return finish(m, ac, f.opts, adv, batch.Labels)
}

// Perturb attacks the bound model's own predictions, so no labels are needed.
func (f *FGSM) Perturb(inputs *mat.Dense, epsilon float64) (*mat.Dense, error) {
	labels, err := model.Predict(f.target, inputs)
	if err != nil {
		return nil, err
	}
	return fgsm(f.target, nn.CrossEntropy{}, inputs, labels, epsilon)
}

func fgsm(m model.Model, criterion nn.Criterion, x *mat.Dense, labels []int, eps float64) (*mat.Dense, error) {
	if eps == 0 {
		return mat.DenseCopyOf(x), nil
	}
	g, err := inputGradient(m, criterion, x, labels)
	if err != nil {
		return nil, err
	}
	return signStep(x, g, eps), nil
}

// PGD iterates sign-gradient steps of size 2.5·eps/steps and projects back
// into the eps-ball around the clean input after each one.
type PGD struct {
	target model.Model
	opts   Options
}

// NewPGD returns a PGD attacker running opts.Steps iterations.
func NewPGD(target model.Model, opts Options) *PGD {
	opts.applyDefaults()
	return &PGD{target: target, opts: opts}
}

func (p *PGD) Name() string        { return "pgd" }
func (p *PGD) Params() []*nn.Param { return nil }

// Attack runs the projected iterations against m on the batch labels.
func (p *PGD) Attack(batch nn.Batch, m model.Model, ac Context) (Result, error) {
	if err := batch.Validate(); err != nil {
		return Result{}, err
	}
	eps := epsilonFor(ac, p.opts.TrainEpsilon)
	adv, err := p.run(m, criterionFor(ac), batch.Inputs, batch.Labels, eps)
	if err != nil {
		return Result{}, err
	}
	return finish(m, ac, p.opts, adv, batch.Labels)
}

// Perturb attacks the bound model's own predictions.
func (p *PGD) Perturb(inputs *mat.Dense, epsilon float64) (*mat.Dense, error) {
	labels, err := model.Predict(p.target, inputs)
	if err != nil {
		return nil, err
	}
	return p.run(p.target, nn.CrossEntropy{}, inputs, labels, epsilon)
}

func (p *PGD) run(m model.Model, criterion nn.Criterion, x *mat.Dense, labels []int, eps float64) (*mat.Dense, error) {
	adv := mat.DenseCopyOf(x)
	if eps == 0 {
		return adv, nil
	}
	alpha := 2.5 * eps / float64(p.opts.Steps)
	for step := 0; step < p.opts.Steps; step++ {
		g, err := inputGradient(m, criterion, adv, labels)
		if err != nil {
			return nil, err
		}
		adv = signStep(adv, g, alpha)
		adv.Apply(func(i, j int, v float64) float64 {
			c := x.At(i, j)
			return math.Max(c-eps, math.Min(c+eps, v))
		}, adv)
	}
	return adv, nil
}

// finish counts surviving examples and optionally trains m on them.
func finish(m model.Model, ac Context, opts Options, adv *mat.Dense, labels []int) (Result, error) {
	correct, _, err := countCorrect(m, adv, labels)
	if err != nil {
		return Result{}, err
	}
	if ac.Training() && opts.TrainAdversarially {
		if err := adversarialStep(m, ac, adv, labels); err != nil {
			return Result{}, err
		}
	}
	return Result{Inputs: adv, Labels: labels, Unperturbed: correct}, nil
}
