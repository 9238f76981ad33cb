package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"robust-forge/internal/nn"
)

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams decoded examples from the WebDataset shard at path.
// An image (.png/.jpg/.jpeg) and a label (.cls) sharing a key form one
// example. The error channel carries at most one error and is closed after
// the example channel.
func StreamShard(ctx context.Context, path string, shape nn.Shape, pendingCap int) (<-chan Example, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Example)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("%w: open shard: %v", ErrDataUnavailable, err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("%w: read tar %s: %v", ErrDataUnavailable, path, err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			part := pending[key]
			if part == nil {
				part = &partial{}
			}
			switch ext {
			case ".jpg", ".jpeg", ".png":
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read image %s: %w", name, err)
					return
				}
				part.image = data
			case ".cls":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read label %s: %w", name, err)
					return
				}
				label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- fmt.Errorf("parse label %s: %w", name, err)
					return
				}
				part.label = &label
			default:
				continue
			}
			pending[key] = part

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}
			if !part.ready() {
				continue
			}
			delete(pending, key)

			pixels, err := decodeImage(part.image, shape)
			if err != nil {
				errCh <- fmt.Errorf("decode %s in %s: %w", key, path, err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Example{Key: key, Pixels: pixels, Label: *part.label}:
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%s: %d samples incomplete", path, len(pending))
		}
	}()

	return out, errCh
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
