package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"robust-forge/internal/nn"
)

// decodeImage decodes a png/jpeg payload and nearest-neighbour resamples it
// to shape. Single-channel shapes use mean intensity.
func decodeImage(raw []byte, shape nn.Shape) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	if shape.Channels != 1 && shape.Channels != 3 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", nn.ErrShapeMismatch, shape.Channels)
	}

	dst := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := shape.Height * shape.Width
	pixels := make([]float64, shape.Size())
	for at := 0; at < plane; at++ {
		px := dst.Pix[at*4 : at*4+3]
		r, g, b := float64(px[0])/255, float64(px[1])/255, float64(px[2])/255
		if shape.Channels == 1 {
			pixels[at] = (r + g + b) / 3
			continue
		}
		pixels[at] = r
		pixels[plane+at] = g
		pixels[2*plane+at] = b
	}
	return pixels, nil
}
