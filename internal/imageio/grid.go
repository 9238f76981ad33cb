// Package imageio writes batches of normalised images to disk.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

const (
	gridColumns = 8
	gridPadding = 2
)

// SaveGrid tiles every row of inputs into one PNG, eight images per row with
// a two pixel border. Values in [-1, 1] map to [0, 255].
func SaveGrid(path string, inputs *mat.Dense, shape nn.Shape) error {
	img, err := Grid(inputs, shape)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Grid renders inputs as a tiled RGBA image.
func Grid(inputs *mat.Dense, shape nn.Shape) (*image.RGBA, error) {
	n, cols := inputs.Dims()
	if cols != shape.Size() {
		return nil, fmt.Errorf("%w: %d columns for shape %s", nn.ErrShapeMismatch, cols, shape)
	}
	if shape.Channels != 1 && shape.Channels != 3 {
		return nil, fmt.Errorf("%w: cannot render %d channels", nn.ErrShapeMismatch, shape.Channels)
	}
	perRow := gridColumns
	if n < perRow {
		perRow = n
	}
	rows := (n + perRow - 1) / perRow
	cellW := shape.Width + gridPadding
	cellH := shape.Height + gridPadding
	img := image.NewRGBA(image.Rect(0, 0, perRow*cellW+gridPadding, rows*cellH+gridPadding))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 0xff
		}
	}

	plane := shape.Height * shape.Width
	for k := 0; k < n; k++ {
		pixels := inputs.RawRowView(k)
		x0 := gridPadding + (k%perRow)*cellW
		y0 := gridPadding + (k/perRow)*cellH
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				at := y*shape.Width + x
				r := toByte(pixels[at])
				g, b := r, r
				if shape.Channels == 3 {
					g = toByte(pixels[plane+at])
					b = toByte(pixels[2*plane+at])
				}
				img.SetRGBA(x0+x, y0+y, color.RGBA{R: r, G: g, B: b, A: 0xff})
			}
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	v = (v*0.5 + 0.5) * 255
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
