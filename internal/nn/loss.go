package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Criterion scores class logits against labels.
type Criterion interface {
	// Loss returns the mean loss and its gradient with respect to logits.
	Loss(logits *mat.Dense, labels []int) (float64, *mat.Dense, error)
}

// CrossEntropy is softmax cross-entropy averaged over the batch.
type CrossEntropy struct{}

func (CrossEntropy) Loss(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, classes := logits.Dims()
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("%w: %d logit rows for %d labels", ErrShapeMismatch, rows, len(labels))
	}
	grad := mat.NewDense(rows, classes, nil)
	total := 0.0
	inv := 1.0 / float64(rows)
	for i := 0; i < rows; i++ {
		label := labels[i]
		if label < 0 || label >= classes {
			return 0, nil, fmt.Errorf("%w: label %d outside %d classes", ErrShapeMismatch, label, classes)
		}
		probs := grad.RawRowView(i)
		softmaxInto(probs, logits.RawRowView(i))
		total += -math.Log(math.Max(probs[label], 1e-12))
		probs[label] -= 1
		for c := range probs {
			probs[c] *= inv
		}
	}
	return total * inv, grad, nil
}

func softmaxInto(dst, logits []float64) {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		dst[i] = e
		sum += e
	}
	inv := 1.0 / sum
	for i := range dst {
		dst[i] *= inv
	}
}
