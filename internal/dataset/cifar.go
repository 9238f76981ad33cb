package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"robust-forge/internal/nn"
)

// CIFAR10Shape is the image shape of CIFAR-10.
var CIFAR10Shape = nn.Shape{Channels: 3, Height: 32, Width: 32}

// CIFAR10Classes is the number of CIFAR-10 labels.
const CIFAR10Classes = 10

var (
	cifarTrainFiles = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	cifarTestFiles  = []string{"test_batch.bin"}
)

// LoadCIFAR10 reads the binary CIFAR-10 distribution under root. Each record
// is one label byte followed by 3072 bytes of CHW pixels.
func LoadCIFAR10(root string, train bool, limit int) (*Dataset, error) {
	files := cifarTestFiles
	if train {
		files = cifarTrainFiles
	}
	ds := &Dataset{Shape: CIFAR10Shape}
	for _, name := range files {
		path := filepath.Join(root, name)
		if err := readCIFARFile(path, ds, limit); err != nil {
			return nil, err
		}
		if limit > 0 && ds.Len() >= limit {
			break
		}
	}
	ds.Truncate(limit)
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: no records under %s", ErrEmptyDataset, root)
	}
	return ds, nil
}

func readCIFARFile(path string, ds *Dataset, limit int) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDataUnavailable, path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	size := CIFAR10Shape.Size()
	record := make([]byte, size+1)
	r := bufio.NewReader(f)
	base := filepath.Base(path)
	for n := 0; limit <= 0 || ds.Len() < limit; n++ {
		_, err := io.ReadFull(r, record)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s record %d: %v", ErrDataUnavailable, path, n, err)
		}
		label := int(record[0])
		if label >= CIFAR10Classes {
			return fmt.Errorf("%w: %s record %d has label %d", ErrDataUnavailable, path, n, label)
		}
		pixels := make([]float64, size)
		for i, b := range record[1:] {
			pixels[i] = float64(b) / 255
		}
		ds.Examples = append(ds.Examples, Example{
			Key:    fmt.Sprintf("%s/%05d", base, n),
			Pixels: pixels,
			Label:  label,
		})
	}
	return nil
}
