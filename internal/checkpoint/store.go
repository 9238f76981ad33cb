// Package checkpoint persists model and attacker parameters.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"robust-forge/internal/nn"
)

var (
	// ErrNotFound reports a checkpoint path with no file behind it.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrCorrupt reports a file that is not a readable checkpoint.
	ErrCorrupt = errors.New("checkpoint: corrupt")
)

// Options configure a Store. Templates may use {name} and {suffix}.
type Options struct {
	Dir               string
	ModelTemplate     string
	AttackerTemplate  string
	AdversarialSuffix string
	Precision         Precision
}

// Store saves and loads parameter sets under one directory.
type Store struct {
	opts Options
}

// NewStore fills template, suffix and precision defaults in opts.
func NewStore(opts Options) *Store {
	if opts.ModelTemplate == "" {
		opts.ModelTemplate = "{name}{suffix}.ckpt"
	}
	if opts.AttackerTemplate == "" {
		opts.AttackerTemplate = "{name}{suffix}_attacker.ckpt"
	}
	if opts.AdversarialSuffix == "" {
		opts.AdversarialSuffix = "_AT"
	}
	if opts.Precision == "" {
		opts.Precision = Float64
	}
	return &Store{opts: opts}
}

// Suffix returns the run suffix for the adversarial-training flag.
func (s *Store) Suffix(adversarial bool) string {
	if adversarial {
		return s.opts.AdversarialSuffix
	}
	return ""
}

// ModelPath is where the model of architecture name is checkpointed.
func (s *Store) ModelPath(name string, adversarial bool) string {
	return s.Expand(s.opts.ModelTemplate, name, adversarial)
}

// AttackerPath is where the attacker paired with architecture name is checkpointed.
func (s *Store) AttackerPath(name string, adversarial bool) string {
	return s.Expand(s.opts.AttackerTemplate, name, adversarial)
}

// Resolve joins a relative path onto the store directory.
func (s *Store) Resolve(path string) string {
	if filepath.IsAbs(path) || s.opts.Dir == "" {
		return path
	}
	return filepath.Join(s.opts.Dir, path)
}

// Expand fills {name} and {suffix} in template and resolves it under Dir.
func (s *Store) Expand(template, name string, adversarial bool) string {
	r := strings.NewReplacer("{name}", name, "{suffix}", s.Suffix(adversarial))
	return s.Resolve(r.Replace(template))
}

// Save writes params to path atomically.
func (s *Store) Save(path string, params []*nn.Param) error {
	snap := snapshot{Tensors: make([]tensorRecord, 0, len(params))}
	for _, p := range params {
		rows, cols := p.Value.Dims()
		rec := packValues(p.Value.RawMatrix().Data, s.opts.Precision)
		rec.Name, rec.Rows, rec.Cols = p.Name, rows, cols
		snap.Tensors = append(snap.Tensors, rec)
	}
	data, err := encode(snap, s.opts.Precision)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	log.Debug().Str("path", path).Int("tensors", len(params)).Int("bytes", len(data)).Msg("checkpoint saved")
	return nil
}

// Load restores params from path. Every param must be present with the same
// dimensions; extra tensors in the file are rejected.
func (s *Store) Load(path string, params []*nn.Param) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	snap, err := decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if len(snap.Tensors) != len(params) {
		return fmt.Errorf("%w: %s holds %d tensors, expected %d", nn.ErrShapeMismatch, path, len(snap.Tensors), len(params))
	}
	byName := make(map[string]tensorRecord, len(snap.Tensors))
	for _, rec := range snap.Tensors {
		byName[rec.Name] = rec
	}
	for _, p := range params {
		rec, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s has no tensor %q", nn.ErrShapeMismatch, path, p.Name)
		}
		rows, cols := p.Value.Dims()
		if rec.Rows != rows || rec.Cols != cols {
			return fmt.Errorf("%w: %s tensor %q is %dx%d, expected %dx%d", nn.ErrShapeMismatch, path, p.Name, rec.Rows, rec.Cols, rows, cols)
		}
		values, err := rec.values()
		if err != nil {
			return fmt.Errorf("%w: %s tensor %q: %v", ErrCorrupt, path, p.Name, err)
		}
		copy(p.Value.RawMatrix().Data, values)
		p.Grad.Zero()
	}
	log.Debug().Str("path", path).Int("tensors", len(params)).Msg("checkpoint loaded")
	return nil
}
