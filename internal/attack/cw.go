package attack

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

// Carlini-Wagner objective weights: minimise ||delta||² + cwConst·max(Z_y - max_{j≠y} Z_j, -cwKappa).
const (
	cwConst = 10.0
	cwKappa = 0.0
)

// CW is a Carlini-Wagner style attack. It descends the L2 distance plus a
// logit margin objective inside the eps-ball and keeps, per example, the
// closest input that flips the prediction.
type CW struct {
	target model.Model
	opts   Options
}

// NewCW returns a CW attacker running opts.Steps descent iterations.
func NewCW(target model.Model, opts Options) *CW {
	opts.applyDefaults()
	return &CW{target: target, opts: opts}
}

func (c *CW) Name() string        { return "cw" }
func (c *CW) Params() []*nn.Param { return nil }

// Attack runs the descent against m on the batch labels.
func (c *CW) Attack(batch nn.Batch, m model.Model, ac Context) (Result, error) {
	if err := batch.Validate(); err != nil {
		return Result{}, err
	}
	eps := epsilonFor(ac, c.opts.TrainEpsilon)
	adv, err := c.run(m, batch.Inputs, batch.Labels, eps)
	if err != nil {
		return Result{}, err
	}
	return finish(m, ac, c.opts, adv, batch.Labels)
}

// Perturb attacks the bound model's own predictions.
func (c *CW) Perturb(inputs *mat.Dense, epsilon float64) (*mat.Dense, error) {
	labels, err := model.Predict(c.target, inputs)
	if err != nil {
		return nil, err
	}
	return c.run(c.target, inputs, labels, epsilon)
}

func (c *CW) run(m model.Model, x *mat.Dense, labels []int, eps float64) (*mat.Dense, error) {
	adv := mat.DenseCopyOf(x)
	if eps == 0 {
		return adv, nil
	}
	rows, cols := x.Dims()
	delta := mat.NewDense(rows, cols, nil)
	best := mat.DenseCopyOf(x)
	bestDist := make([]float64, rows)
	for i := range bestDist {
		bestDist[i] = math.Inf(1)
	}
	alpha := 2.5 * eps / float64(c.opts.Steps)

	for step := 0; step <= c.opts.Steps; step++ {
		adv.Add(x, delta)
		nn.Clip(adv, pixelMin, pixelMax)
		logits, err := m.Forward(adv)
		if err != nil {
			return nil, err
		}
		pred := nn.Argmax(logits)
		for i := 0; i < rows; i++ {
			if pred[i] == labels[i] {
				continue
			}
			if d := sqDistance(adv, x, i); d < bestDist[i] {
				bestDist[i] = d
				best.SetRow(i, adv.RawRowView(i))
			}
		}
		if step == c.opts.Steps {
			break
		}

		dx, err := marginGradient(m, logits, labels)
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			g := dx.RawRowView(i)
			d := delta.RawRowView(i)
			scale := 0.0
			for j := range g {
				g[j] = 2*d[j] + cwConst*g[j]
				scale = math.Max(scale, math.Abs(g[j]))
			}
			if scale == 0 {
				continue
			}
			for j := range d {
				d[j] = math.Max(-eps, math.Min(eps, d[j]-alpha*g[j]/scale))
			}
		}
	}

	for i := 0; i < rows; i++ {
		if math.IsInf(bestDist[i], 1) {
			best.SetRow(i, adv.RawRowView(i))
		}
	}
	return best, nil
}

// marginGradient backpropagates d/dZ of max(Z_y - max_{j≠y} Z_j, -kappa)
// through m and returns the input gradient. m's parameter gradients are left
// zeroed.
func marginGradient(m model.Model, logits *mat.Dense, labels []int) (*mat.Dense, error) {
	rows, cols := logits.Dims()
	grad := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		z := logits.RawRowView(i)
		y := labels[i]
		other := -1
		for j := range z {
			if j != y && (other < 0 || z[j] > z[other]) {
				other = j
			}
		}
		if other < 0 || z[y]-z[other] <= -cwKappa {
			continue
		}
		grad.Set(i, y, 1)
		grad.Set(i, other, -1)
	}
	nn.ZeroGrad(m.Params())
	dx, err := m.Backward(grad)
	nn.ZeroGrad(m.Params())
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(dx), nil
}

func sqDistance(a, b *mat.Dense, i int) float64 {
	ra, rb := a.RawRowView(i), b.RawRowView(i)
	sum := 0.0
	for j := range ra {
		d := ra[j] - rb[j]
		sum += d * d
	}
	return sum
}
