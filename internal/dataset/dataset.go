package dataset

import (
	"errors"

	"robust-forge/internal/nn"
)

var (
	// ErrDataUnavailable reports dataset files that are missing or unreadable.
	ErrDataUnavailable = errors.New("dataset: data unavailable")
	// ErrEmptyDataset reports a split or loader that yields no examples.
	ErrEmptyDataset = errors.New("dataset: empty dataset")
)

// Example is one decoded image. Pixels are CHW, scaled to [0, 1].
type Example struct {
	Key    string
	Pixels []float64
	Label  int
}

// Dataset is an in-memory split.
type Dataset struct {
	Shape    nn.Shape
	Examples []Example
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Examples)
}

// Truncate keeps at most limit examples; limit <= 0 keeps everything.
func (d *Dataset) Truncate(limit int) {
	if limit > 0 && limit < len(d.Examples) {
		d.Examples = d.Examples[:limit]
	}
}
