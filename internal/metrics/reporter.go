package metrics

import (
	"strconv"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

// Gauge names, published under the robust_forge. namespace.
const (
	TrainLoss        = "train_loss"
	TrainAccuracy    = "train_accuracy"
	TrainAdvAccuracy = "train_adversarial_accuracy"
	TrainThroughput  = "train_images_per_sec"
	TestAccuracy     = "test_accuracy"
	TestAdvAccuracy  = "test_adversarial_accuracy"
)

// Reporter publishes run gauges to statsd. A nil *Reporter is valid and
// drops everything.
type Reporter struct {
	client statsd.ClientInterface
}

// NewReporter dials addr, or returns a no-op reporter when addr is empty.
func NewReporter(addr string, tags []string) (*Reporter, error) {
	if addr == "" {
		return &Reporter{client: &statsd.NoOpClient{}}, nil
	}
	client, err := statsd.New(addr, statsd.WithNamespace("robust_forge."), statsd.WithTags(tags))
	if err != nil {
		return nil, err
	}
	log.Info().Str("address", addr).Strs("tags", tags).Msg("statsd reporter initialised")
	return &Reporter{client: client}, nil
}

// NewReporterWithClient wraps an existing client.
func NewReporterWithClient(client statsd.ClientInterface) *Reporter {
	return &Reporter{client: client}
}

// TrainProgress publishes one training log window.
func (r *Reporter) TrainProgress(architecture string, epoch int, snap Snapshot, clean, adversarial float64) {
	if r == nil {
		return
	}
	tags := []string{"architecture:" + architecture, "epoch:" + strconv.Itoa(epoch)}
	r.gauge(TrainLoss, snap.MeanLoss, tags)
	r.gauge(TrainAccuracy, clean, tags)
	r.gauge(TrainAdvAccuracy, adversarial, tags)
	r.gauge(TrainThroughput, snap.ImagesPerSec, tags)
}

// EvalResult publishes the accuracies for one epsilon.
func (r *Reporter) EvalResult(modelName, attackerName string, epsilon, clean, adversarial float64) {
	if r == nil {
		return
	}
	tags := []string{
		"model:" + modelName,
		"attacker:" + attackerName,
		"epsilon:" + strconv.FormatFloat(epsilon, 'f', -1, 64),
	}
	r.gauge(TestAccuracy, clean, tags)
	r.gauge(TestAdvAccuracy, adversarial, tags)
}

func (r *Reporter) gauge(name string, value float64, tags []string) {
	if err := r.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd gauge failed")
	}
}

// Close flushes and closes the client.
func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}
