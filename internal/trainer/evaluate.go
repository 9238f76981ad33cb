package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/attack"
	"robust-forge/internal/dataset"
	"robust-forge/internal/imageio"
	"robust-forge/internal/metrics"
	"robust-forge/internal/model"
	"robust-forge/internal/nn"
	"robust-forge/internal/results"
)

// DefaultEpsilons is the perturbation sweep used when none is configured.
var DefaultEpsilons = []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0}

// EvalParams captures the knobs required by the evaluation sweep.
type EvalParams struct {
	Model        model.Model
	Criterion    nn.Criterion
	Data         BatchSource
	Attacker     attack.Attacker
	ModelName    string
	AttackerName string
	Epsilons     []float64
	// ImagesDir receives <ModelName><epsilon>_samples.png; empty skips images.
	ImagesDir string
	// Table receives one row per epsilon after the sweep; nil skips it.
	Table    *results.Table
	Reporter *metrics.Reporter
}

// Evaluate sweeps Epsilons over Data and returns the accuracies measured at
// the last epsilon. The model is never updated.
func Evaluate(ctx context.Context, p EvalParams) (Accuracy, error) {
	if p.Model == nil || p.Attacker == nil || p.Data == nil {
		return Accuracy{}, errors.New("trainer: model, attacker and data are required")
	}
	if p.Criterion == nil {
		p.Criterion = nn.CrossEntropy{}
	}
	epsilons := p.Epsilons
	if len(epsilons) == 0 {
		epsilons = DefaultEpsilons
	}

	var last Accuracy
	rows := make([]results.Row, 0, len(epsilons))
	for _, eps := range epsilons {
		sw, err := sweepEpsilon(ctx, p, eps)
		if err != nil {
			return Accuracy{}, fmt.Errorf("epsilon %g: %w", eps, err)
		}
		acc := sw.acc
		if p.ImagesDir != "" {
			path := SamplePath(p.ImagesDir, p.ModelName, eps)
			if err := imageio.SaveGrid(path, sw.sample, sw.shape); err != nil {
				return Accuracy{}, fmt.Errorf("epsilon %g: save samples: %w", eps, err)
			}
		}
		log.Info().
			Str("model", p.ModelName).
			Str("attacker", p.AttackerName).
			Float64("epsilon", eps).
			Float64("loss", sw.loss).
			Msgf("Test Acc: %.4f | Test Attacked Acc: %.4f", 100*acc.Clean, 100*acc.Adversarial)
		p.Reporter.EvalResult(p.ModelName, p.AttackerName, eps, acc.Clean, acc.Adversarial)

		rows = append(rows, results.Row{
			Model:      p.ModelName,
			Attacker:   p.AttackerName,
			Epsilon:    eps,
			TestAcc:    acc.Clean,
			TestAttAcc: acc.Adversarial,
		})
		last = acc
	}

	if p.Table != nil {
		if err := p.Table.Append(rows); err != nil {
			return Accuracy{}, fmt.Errorf("append results: %w", err)
		}
	}
	return last, nil
}

// SamplePath is the image written for one (model, epsilon) pair, e.g.
// images/mlp_AT0.2_samples.png.
func SamplePath(dir, modelName string, epsilon float64) string {
	return filepath.Join(dir, modelName+results.FormatEpsilon(epsilon)+"_samples.png")
}

type sweep struct {
	acc    Accuracy
	loss   float64
	sample *mat.Dense
	shape  nn.Shape
}

// sweepEpsilon measures clean loss, clean accuracy and adversarial accuracy
// over every test batch at eps. The perturbed last batch is the sample.
func sweepEpsilon(ctx context.Context, p EvalParams, eps float64) (sweep, error) {
	it := p.Data.Epoch(ctx)
	defer it.Close()

	var out sweep
	var clean, adv metrics.Accuracy
	lossSum := 0.0
	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sweep{}, err
		}
		if err := batch.Validate(); err != nil {
			return sweep{}, err
		}
		logits, err := p.Model.Forward(batch.Inputs)
		if err != nil {
			return sweep{}, err
		}
		loss, _, err := p.Criterion.Loss(logits, batch.Labels)
		if err != nil {
			return sweep{}, err
		}
		lossSum += loss * float64(batch.Len())
		clean.Add(batch.Len(), nn.CountCorrect(logits, batch.Labels))

		res, err := p.Attacker.Attack(batch, p.Model, attack.Eval(eps))
		if err != nil {
			return sweep{}, fmt.Errorf("attack: %w", err)
		}
		adv.Add(batch.Len(), res.Unperturbed)

		out.sample, err = p.Attacker.Perturb(batch.Inputs, eps)
		if err != nil {
			return sweep{}, fmt.Errorf("perturb: %w", err)
		}
		out.shape = batch.Shape
	}
	if clean.Total == 0 {
		return sweep{}, dataset.ErrEmptyDataset
	}
	out.acc = Accuracy{Clean: clean.Ratio(), Adversarial: adv.Ratio()}
	out.loss = lossSum / float64(clean.Total)
	return out, nil
}
