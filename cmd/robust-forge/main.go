package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"robust-forge/internal/config"
	"robust-forge/internal/dataset"
	"robust-forge/internal/experiment"
	"robust-forge/internal/logger"
	"robust-forge/internal/metrics"
	"robust-forge/internal/nn"
)

const appName = "robust-forge"

func main() {
	cfgPath := flag.String("config", "configs/cifar10.yaml", "Path to YAML config")
	mode := flag.String("mode", "", "Override run mode (train or evaluate)")
	dataRoot := flag.String("data-root", "", "Override dataset root")
	logEvery := flag.Int("log-every", 0, "Log every N batches")
	seed := flag.Int64("seed", 0, "PRNG seed")
	limit := flag.Int("limit", 0, "Cap the number of examples per split")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	cfg.ApplyOverrides(config.Overrides{
		Mode:     *mode,
		DataRoot: *dataRoot,
		LogEvery: *logEvery,
		Seed:     *seed,
		Limit:    *limit,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := logger.Init(appName, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter, err := metrics.NewReporter(cfg.StatsdAddress, []string{"mode:" + cfg.Mode})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create statsd reporter")
	}
	defer reporter.Close()

	data, err := dataset.NewProvider(ctx, dataset.Options{
		Format:     cfg.Dataset.Format,
		Root:       cfg.Dataset.Root,
		TrainRoots: cfg.Dataset.TrainRoots,
		TestRoots:  cfg.Dataset.TestRoots,
		Shape: nn.Shape{
			Channels: cfg.Dataset.Channels,
			Height:   cfg.Dataset.Height,
			Width:    cfg.Dataset.Width,
		},
		TrainBatchSize: cfg.Dataset.TrainBatchSize,
		TestBatchSize:  cfg.Dataset.TestBatchSize,
		NumWorkers:     cfg.Dataset.NumWorkers,
		Augment:        cfg.Dataset.Augment,
		Limit:          cfg.Dataset.Limit,
		Seed:           cfg.Seed,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load dataset")
	}

	runner, err := experiment.NewRunner(cfg, data, experiment.WithReporter(reporter))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create runner")
	}

	outcomes, err := runner.Run(ctx)
	if err != nil {
		reporter.Close()
		log.Fatal().Err(err).Msg("experiment failed")
	}
	for _, o := range outcomes {
		log.Info().
			Str("run", o.RunName).
			Bool("adversarial", o.Adversarial).
			Float64("acc", o.Accuracy.Clean).
			Float64("adv_acc", o.Accuracy.Adversarial).
			Msg("summary")
	}
}
