// Package experiment drives the architecture x adversarial-mode grid.
package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"robust-forge/internal/attack"
	"robust-forge/internal/checkpoint"
	"robust-forge/internal/config"
	"robust-forge/internal/dataset"
	"robust-forge/internal/metrics"
	"robust-forge/internal/model"
	"robust-forge/internal/nn"
	"robust-forge/internal/results"
	"robust-forge/internal/trainer"
)

// Outcome is the result of one (architecture, adversarial mode) run.
type Outcome struct {
	Architecture string
	// RunName is Architecture plus the adversarial suffix.
	RunName     string
	Adversarial bool
	Accuracy    trainer.Accuracy
}

// Runner owns the collaborators shared by every run.
type Runner struct {
	cfg      *config.Config
	data     *dataset.Provider
	registry *model.Registry
	store    *checkpoint.Store
	table    *results.Table
	reporter *metrics.Reporter
}

// Option customises a Runner.
type Option func(*Runner)

// WithRegistry replaces the built-in architecture registry.
func WithRegistry(r *model.Registry) Option {
	return func(run *Runner) { run.registry = r }
}

// WithReporter sends progress gauges to r.
func WithReporter(r *metrics.Reporter) Option {
	return func(run *Runner) { run.reporter = r }
}

// NewRunner builds a Runner over cfg and the loaded train/test data.
func NewRunner(cfg *config.Config, data *dataset.Provider, opts ...Option) (*Runner, error) {
	if cfg == nil || data == nil || data.Train == nil || data.Test == nil {
		return nil, errors.New("experiment: config and both data loaders are required")
	}
	r := &Runner{
		cfg:      cfg,
		data:     data,
		registry: model.NewRegistry(),
		store: checkpoint.NewStore(checkpoint.Options{
			Dir:               cfg.Checkpoint.Dir,
			ModelTemplate:     cfg.Checkpoint.ModelTemplate,
			AttackerTemplate:  cfg.Checkpoint.AttackerTemplate,
			AdversarialSuffix: cfg.Checkpoint.AdversarialSuffix,
			Precision:         checkpoint.Precision(cfg.Checkpoint.Precision),
		}),
		table: results.NewTable(cfg.ResultsPath),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Store exposes the checkpoint store used for every run.
func (r *Runner) Store() *checkpoint.Store { return r.store }

// Run walks every configured architecture in order and, for each, every
// adversarial mode. The first failure aborts the run; checkpoints written by
// earlier runs are kept.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	var outcomes []Outcome
	for i, arch := range r.cfg.Architectures {
		for _, adversarial := range r.cfg.AdversarialModes {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
			out, err := r.runOne(ctx, i, arch, adversarial)
			if err != nil {
				return outcomes, fmt.Errorf("%s %s (adversarial=%t): %w", r.cfg.Mode, arch.Name, adversarial, err)
			}
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, index int, arch config.Architecture, adversarial bool) (Outcome, error) {
	baseArchitectureName := arch.Name
	evaluationRunName := baseArchitectureName + r.store.Suffix(adversarial)
	seed := r.cfg.Seed + int64(index)

	shape := r.data.Train.Shape()
	m, err := r.registry.Build(model.Spec{
		Kind:       arch.Kind,
		Hidden:     arch.Hidden,
		InputSize:  shape.Size(),
		NumClasses: r.cfg.Dataset.NumClasses,
		Seed:       seed,
	})
	if err != nil {
		return Outcome{}, err
	}
	att, err := attack.New(r.cfg.Attacker.Kind, m, attack.Options{
		TrainEpsilon:       r.cfg.Attacker.TrainEpsilon,
		TrainAdversarially: adversarial,
		LearningRate:       r.cfg.Attacker.LearningRate,
		Latent:             r.cfg.Attacker.Latent,
		Steps:              r.cfg.Attacker.Steps,
		Seed:               seed,
	})
	if err != nil {
		return Outcome{}, err
	}

	log.Info().
		Str("mode", r.cfg.Mode).
		Str("architecture", baseArchitectureName).
		Str("run", evaluationRunName).
		Bool("adversarial", adversarial).
		Int("params", countParams(m.Params())).
		Msg("starting run")

	var acc trainer.Accuracy
	switch r.cfg.Mode {
	case config.ModeTrain:
		acc, err = trainer.Train(ctx, trainer.TrainParams{
			Model:         m,
			Optimizer:     r.optimizer(m.Params()),
			Criterion:     nn.CrossEntropy{},
			Data:          r.data.Train,
			Architecture:  baseArchitectureName,
			Attacker:      att,
			Epochs:        arch.Epochs,
			LogEvery:      r.cfg.LogEvery,
			EarlyStopping: r.cfg.EarlyStopping,
			EarlyStopLoss: r.cfg.EarlyStopLoss,
			Reporter:      r.reporter,
		})
	case config.ModeEvaluate:
		if err := r.restore(m, att, baseArchitectureName, adversarial); err != nil {
			return Outcome{}, err
		}
		acc, err = trainer.Evaluate(ctx, trainer.EvalParams{
			Model:        m,
			Criterion:    nn.CrossEntropy{},
			Data:         r.data.Test,
			Attacker:     att,
			ModelName:    evaluationRunName,
			AttackerName: r.cfg.Attacker.Name,
			Epsilons:     r.cfg.Evaluation.Epsilons,
			ImagesDir:    r.cfg.ImagesDir,
			Table:        r.table,
			Reporter:     r.reporter,
		})
	default:
		err = fmt.Errorf("unknown mode %q", r.cfg.Mode)
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := r.store.Save(r.store.ModelPath(baseArchitectureName, adversarial), m.Params()); err != nil {
		return Outcome{}, fmt.Errorf("save model: %w", err)
	}
	if err := r.store.Save(r.store.AttackerPath(baseArchitectureName, adversarial), att.Params()); err != nil {
		return Outcome{}, fmt.Errorf("save attacker: %w", err)
	}

	log.Info().
		Str("run", evaluationRunName).
		Float64("acc", acc.Clean).
		Float64("adv_acc", acc.Adversarial).
		Msg("run finished")
	return Outcome{
		Architecture: baseArchitectureName,
		RunName:      evaluationRunName,
		Adversarial:  adversarial,
		Accuracy:     acc,
	}, nil
}

// restore loads the evaluation checkpoints. Parameter-free attackers have
// nothing to load.
func (r *Runner) restore(m model.Model, att attack.Attacker, name string, adversarial bool) error {
	modelPath := r.store.ModelPath(name, adversarial)
	if t := r.cfg.Evaluation.ModelCheckpoint; t != "" {
		modelPath = r.store.Expand(t, name, adversarial)
	}
	if err := r.store.Load(modelPath, m.Params()); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if len(att.Params()) == 0 {
		return nil
	}
	attackerPath := r.store.AttackerPath(name, adversarial)
	if t := r.cfg.Evaluation.AttackerCheckpoint; t != "" {
		attackerPath = r.store.Expand(t, name, adversarial)
	}
	if err := r.store.Load(attackerPath, att.Params()); err != nil {
		return fmt.Errorf("load attacker: %w", err)
	}
	return nil
}

func (r *Runner) optimizer(params []*nn.Param) nn.Optimizer {
	if r.cfg.Optimizer == "sgd" {
		return nn.NewSGD(params, r.cfg.LearningRate, r.cfg.Momentum, r.cfg.WeightDecay)
	}
	return nn.NewAdam(params, r.cfg.LearningRate)
}

func countParams(params []*nn.Param) int {
	n := 0
	for _, p := range params {
		rows, cols := p.Value.Dims()
		n += rows * cols
	}
	return n
}
