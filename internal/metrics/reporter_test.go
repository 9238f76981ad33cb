package metrics

import (
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	statsd.NoOpClient
	gauges map[string]float64
	tags   map[string][]string
}

func (c *recordingClient) Gauge(name string, value float64, tags []string, rate float64) error {
	c.gauges[name] = value
	c.tags[name] = tags
	return nil
}

func TestReporterPublishesGauges(t *testing.T) {
	client := &recordingClient{gauges: map[string]float64{}, tags: map[string][]string{}}
	r := NewReporterWithClient(client)

	r.TrainProgress("lenet", 3, Snapshot{MeanLoss: 0.4, ImagesPerSec: 100}, 0.9, 0.6)
	r.EvalResult("lenet_AT", "generative", 0.2, 0.8, 0.5)

	assert.Equal(t, 0.4, client.gauges[TrainLoss])
	assert.Equal(t, 0.6, client.gauges[TrainAdvAccuracy])
	assert.Equal(t, []string{"architecture:lenet", "epoch:3"}, client.tags[TrainAccuracy])
	assert.Equal(t, 0.5, client.gauges[TestAdvAccuracy])
	assert.Contains(t, client.tags[TestAccuracy], "epsilon:0.2")
}

func TestNilAndNoOpReporters(t *testing.T) {
	var r *Reporter
	r.TrainProgress("x", 1, Snapshot{}, 0, 0)
	r.EvalResult("x", "y", 0, 0, 0)
	assert.NoError(t, r.Close())

	noop, err := NewReporter("", nil)
	require.NoError(t, err)
	noop.EvalResult("x", "y", 0, 0, 0)
	assert.NoError(t, noop.Close())
}
