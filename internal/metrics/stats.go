package metrics

import "time"

// Window accumulates loss and timing across the steps of one logging window.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	lossSum float64
	last    float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.last = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, LastLoss: w.last}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanLoss     float64
	LastLoss     float64
}

// Accuracy counts correct predictions.
type Accuracy struct {
	Total   int
	Correct int
}

// Add counts total examples of which correct were classified correctly.
func (a *Accuracy) Add(total, correct int) {
	a.Total += total
	a.Correct += correct
}

// Ratio is Correct/Total, or 0 when nothing was counted.
func (a Accuracy) Ratio() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}
