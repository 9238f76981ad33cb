package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"robust-forge/internal/attack"
	"robust-forge/internal/dataset"
	"robust-forge/internal/metrics"
	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

// DefaultEarlyStopLoss is the mean window loss below which an epoch ends early.
const DefaultEarlyStopLoss = 0.01

// BatchSource yields one iterator per epoch. *dataset.Loader implements it.
type BatchSource interface {
	Epoch(ctx context.Context) *dataset.Iterator
}

// Accuracy is the pair of ratios returned by Train and Evaluate.
type Accuracy struct {
	Clean       float64
	Adversarial float64
}

// TrainParams captures the knobs required by the training loop.
type TrainParams struct {
	Model        model.Model
	Optimizer    nn.Optimizer
	Criterion    nn.Criterion
	Data         BatchSource
	Architecture string
	// Attacker is optional; without one no adversarial statistics are kept.
	Attacker      attack.Attacker
	Epochs        int
	LogEvery      int
	EarlyStopping bool
	EarlyStopLoss float64
	Reporter      *metrics.Reporter
}

// Train runs Epochs passes over Data and returns clean and adversarial
// accuracy accumulated over the whole run.
//
// Every LogEvery batches the mean window loss is logged. With EarlyStopping
// set, a mean below EarlyStopLoss ends the current epoch's batch loop; the
// next epoch still runs.
func Train(ctx context.Context, p TrainParams) (Accuracy, error) {
	if p.Epochs <= 0 {
		return Accuracy{}, fmt.Errorf("trainer: epochs must be > 0 (got %d)", p.Epochs)
	}
	if p.LogEvery <= 0 {
		return Accuracy{}, fmt.Errorf("trainer: log frequency must be > 0 (got %d)", p.LogEvery)
	}
	if p.Model == nil || p.Optimizer == nil || p.Data == nil {
		return Accuracy{}, errors.New("trainer: model, optimizer and data are required")
	}
	if p.Criterion == nil {
		p.Criterion = nn.CrossEntropy{}
	}
	if p.EarlyStopLoss <= 0 {
		p.EarlyStopLoss = DefaultEarlyStopLoss
	}

	var clean, adv metrics.Accuracy
	for epoch := 1; epoch <= p.Epochs; epoch++ {
		if err := trainEpoch(ctx, p, epoch, &clean, &adv); err != nil {
			return Accuracy{}, err
		}
	}
	if clean.Total == 0 {
		return Accuracy{}, fmt.Errorf("trainer: %s: %w", p.Architecture, dataset.ErrEmptyDataset)
	}
	return Accuracy{Clean: clean.Ratio(), Adversarial: adv.Ratio()}, nil
}

func trainEpoch(ctx context.Context, p TrainParams, epoch int, clean, adv *metrics.Accuracy) error {
	it := p.Data.Epoch(ctx)
	defer it.Close()

	var window metrics.Window
	for step := 1; ; step++ {
		startData := time.Now()
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, correct, err := trainStep(p, batch)
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, step, err)
		}
		clean.Add(batch.Len(), correct)

		if p.Attacker != nil {
			res, err := p.Attacker.Attack(batch, p.Model, attack.Train(p.Optimizer, p.Criterion))
			if err != nil {
				return fmt.Errorf("epoch %d batch %d: attack: %w", epoch, step, err)
			}
			adv.Add(len(res.Labels), res.Unperturbed)
		}
		window.Record(batch.Len(), dataTime, time.Since(startCompute), loss)

		if step%p.LogEvery != 0 {
			continue
		}
		snap := window.Snapshot()
		log.Info().
			Str("architecture", p.Architecture).
			Int("epoch", epoch).
			Int("batch", step).
			Float64("loss", snap.MeanLoss).
			Float64("acc", clean.Ratio()).
			Float64("adv_acc", adv.Ratio()).
			Float64("images_per_sec", snap.ImagesPerSec).
			Msg("training progress")
		p.Reporter.TrainProgress(p.Architecture, epoch, snap, clean.Ratio(), adv.Ratio())

		if p.EarlyStopping && snap.MeanLoss < p.EarlyStopLoss {
			log.Info().
				Str("architecture", p.Architecture).
				Int("epoch", epoch).
				Int("batch", step).
				Float64("loss", snap.MeanLoss).
				Msg("early stopping epoch")
			return nil
		}
	}
}

// trainStep applies one optimizer update and returns the batch loss and the
// number of correct clean predictions.
func trainStep(p TrainParams, batch nn.Batch) (float64, int, error) {
	if err := batch.Validate(); err != nil {
		return 0, 0, err
	}
	p.Optimizer.ZeroGrad()
	logits, err := p.Model.Forward(batch.Inputs)
	if err != nil {
		return 0, 0, err
	}
	loss, grad, err := p.Criterion.Loss(logits, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	if _, err := p.Model.Backward(grad); err != nil {
		return 0, 0, err
	}
	p.Optimizer.Step()
	return loss, nn.CountCorrect(logits, batch.Labels), nil
}
