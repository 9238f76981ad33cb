package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

// Precision selects how parameter values are stored.
type Precision string

// Supported precisions. Float16 halves checkpoint size at the cost of rounding.
const (
	Float64 Precision = "fp64"
	Float16 Precision = "fp16"
)

var magic = [4]byte{'R', 'F', 'C', 'K'}

const (
	formatVersion = 1
	headerSize    = len(magic) + 2 + 8
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, codecErr
}

type tensorRecord struct {
	Name string
	Rows int
	Cols int
	F64  []float64
	F16  []uint16
}

type snapshot struct {
	Tensors []tensorRecord
}

// encode lays a snapshot out as magic | version | precision | xxhash64 | zstd(gob).
func encode(s snapshot, precision Precision) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(s); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	payload := enc.EncodeAll(raw.Bytes(), nil)

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, magic[:])
	out[4] = formatVersion
	out[5] = precisionByte(precision)
	binary.LittleEndian.PutUint64(out[6:], xxhash.Sum64(payload))
	return append(out, payload...), nil
}

func decode(data []byte) (snapshot, error) {
	var s snapshot
	if len(data) < headerSize || !bytes.Equal(data[:4], magic[:]) {
		return s, fmt.Errorf("%w: not a checkpoint file", ErrCorrupt)
	}
	if data[4] != formatVersion {
		return s, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	payload := data[headerSize:]
	if want := binary.LittleEndian.Uint64(data[6:]); xxhash.Sum64(payload) != want {
		return s, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	_, dec, err := codecs()
	if err != nil {
		return s, err
	}
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

func precisionByte(p Precision) byte {
	if p == Float16 {
		return 16
	}
	return 64
}

func packValues(values []float64, precision Precision) tensorRecord {
	if precision != Float16 {
		return tensorRecord{F64: append([]float64(nil), values...)}
	}
	half := make([]uint16, len(values))
	for i, v := range values {
		half[i] = float16.Fromfloat32(float32(v)).Bits()
	}
	return tensorRecord{F16: half}
}

func (r tensorRecord) values() ([]float64, error) {
	n := r.Rows * r.Cols
	switch {
	case len(r.F64) == n:
		return r.F64, nil
	case len(r.F16) == n:
		out := make([]float64, n)
		for i, h := range r.F16 {
			out[i] = float64(float16.Frombits(h).Float32())
		}
		return out, nil
	}
	return nil, errors.New("tensor payload does not match its dimensions")
}
