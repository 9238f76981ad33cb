package dataset

import (
	"math/rand"

	"robust-forge/internal/nn"
)

// Transform rewrites one CHW example. Implementations may return src when
// they leave it unchanged and must not mutate src otherwise.
type Transform interface {
	Apply(src []float64, shape nn.Shape, rng *rand.Rand) []float64
}

// RandomCrop zero-pads each side by Padding pixels and crops a random
// window of the original size.
type RandomCrop struct {
	Padding int
}

// Apply implements Transform.
func (c RandomCrop) Apply(src []float64, shape nn.Shape, rng *rand.Rand) []float64 {
	if c.Padding <= 0 {
		return src
	}
	dx := rng.Intn(2*c.Padding+1) - c.Padding
	dy := rng.Intn(2*c.Padding+1) - c.Padding
	out := make([]float64, len(src))
	plane := shape.Height * shape.Width
	for ch := 0; ch < shape.Channels; ch++ {
		for y := 0; y < shape.Height; y++ {
			sy := y + dy
			if sy < 0 || sy >= shape.Height {
				continue
			}
			for x := 0; x < shape.Width; x++ {
				sx := x + dx
				if sx < 0 || sx >= shape.Width {
					continue
				}
				out[ch*plane+y*shape.Width+x] = src[ch*plane+sy*shape.Width+sx]
			}
		}
	}
	return out
}

// HorizontalFlip mirrors the image left-to-right with probability P.
type HorizontalFlip struct {
	P float64
}

// Apply implements Transform.
func (f HorizontalFlip) Apply(src []float64, shape nn.Shape, rng *rand.Rand) []float64 {
	if rng.Float64() >= f.P {
		return src
	}
	out := make([]float64, len(src))
	for row := 0; row < shape.Channels*shape.Height; row++ {
		base := row * shape.Width
		for x := 0; x < shape.Width; x++ {
			out[base+x] = src[base+shape.Width-1-x]
		}
	}
	return out
}

// Normalize maps each channel c to (v - Mean[c]) / Std[c].
type Normalize struct {
	Mean []float64
	Std  []float64
}

// Symmetric maps [0, 1] pixels to [-1, 1] for any channel count.
func Symmetric(channels int) Normalize {
	n := Normalize{Mean: make([]float64, channels), Std: make([]float64, channels)}
	for i := range n.Mean {
		n.Mean[i] = 0.5
		n.Std[i] = 0.5
	}
	return n
}

// Apply implements Transform.
func (n Normalize) Apply(src []float64, shape nn.Shape, _ *rand.Rand) []float64 {
	out := make([]float64, len(src))
	plane := shape.Height * shape.Width
	for i, v := range src {
		ch := i / plane
		out[i] = (v - n.Mean[ch]) / n.Std[ch]
	}
	return out
}

// TrainTransforms is the augmentation pipeline used for training splits.
func TrainTransforms(channels int) []Transform {
	return []Transform{RandomCrop{Padding: 4}, HorizontalFlip{P: 0.5}, Symmetric(channels)}
}

// TestTransforms only normalises.
func TestTransforms(channels int) []Transform {
	return []Transform{Symmetric(channels)}
}
