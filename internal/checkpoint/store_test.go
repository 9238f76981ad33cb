package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/attack"
	"robust-forge/internal/model"
	"robust-forge/internal/nn"
)

func sampleInputs() *mat.Dense {
	data := make([]float64, 4*12)
	for i := range data {
		data[i] = float64(i%7)/7 - 0.5
	}
	return mat.NewDense(4, 12, data)
}

func TestModelRoundTripReproducesPredictions(t *testing.T) {
	for _, precision := range []Precision{Float64, Float16} {
		t.Run(string(precision), func(t *testing.T) {
			store := NewStore(Options{Dir: t.TempDir(), Precision: precision})
			trained, err := model.NewMLP(5, 12, []int{8}, 1)
			require.NoError(t, err)
			path := store.ModelPath("mlp", true)
			require.NoError(t, store.Save(path, trained.Params()))

			fresh, err := model.NewMLP(5, 12, []int{8}, 99)
			require.NoError(t, err)
			require.NoError(t, store.Load(path, fresh.Params()))

			want, err := model.Predict(trained, sampleInputs())
			require.NoError(t, err)
			got, err := model.Predict(fresh, sampleInputs())
			require.NoError(t, err)
			assert.Equal(t, want, got)
			if precision == Float64 {
				for i, p := range trained.Params() {
					assert.True(t, mat.Equal(p.Value, fresh.Params()[i].Value), p.Name)
				}
			}
		})
	}
}

func TestAttackerRoundTrip(t *testing.T) {
	store := NewStore(Options{Dir: t.TempDir()})
	gen := attack.NewGenerative(12, attack.Options{Latent: 3, Seed: 1})
	path := store.AttackerPath("softmax", false)
	require.NoError(t, store.Save(path, gen.Params()))

	fresh := attack.NewGenerative(12, attack.Options{Latent: 3, Seed: 2})
	require.NoError(t, store.Load(path, fresh.Params()))

	a, err := gen.Perturb(sampleInputs(), 0.3)
	require.NoError(t, err)
	b, err := fresh.Perturb(sampleInputs(), 0.3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestParameterFreeAttackerSavesEmptyCheckpoint(t *testing.T) {
	store := NewStore(Options{Dir: t.TempDir()})
	path := store.AttackerPath("softmax", false)
	require.NoError(t, store.Save(path, nil))
	require.NoError(t, store.Load(path, nil))
}

func TestFailedCommitRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(Options{Dir: dir})
	path := filepath.Join(dir, "linear.ckpt")
	// A non-empty directory at path makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

	err := store.Save(path, model.NewLinear(3, 4, 1).Params())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit checkpoint")
	assert.NoFileExists(t, path+".tmp")
	assert.DirExists(t, path)
}

func TestPathTemplates(t *testing.T) {
	store := NewStore(Options{Dir: "saved"})
	assert.Equal(t, filepath.Join("saved", "lenet.ckpt"), store.ModelPath("lenet", false))
	assert.Equal(t, filepath.Join("saved", "lenet_AT.ckpt"), store.ModelPath("lenet", true))
	assert.Equal(t, filepath.Join("saved", "lenet_AT_attacker.ckpt"), store.AttackerPath("lenet", true))

	custom := NewStore(Options{
		ModelTemplate:     "{name}{suffix}_no_drop.pth",
		AttackerTemplate:  "{name}{suffix}_nodrop_attacker_0.0010.pth",
		AdversarialSuffix: "_adv",
	})
	assert.Equal(t, "res18_adv_no_drop.pth", custom.ModelPath("res18", true))
	assert.Equal(t, "res18_nodrop_attacker_0.0010.pth", custom.AttackerPath("res18", false))
	assert.Equal(t, "/abs/x.ckpt", store.Resolve("/abs/x.ckpt"))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(Options{Dir: dir})
	params := model.NewLinear(3, 4, 1).Params()

	err := store.Load(filepath.Join(dir, "missing.ckpt"), params)
	assert.ErrorIs(t, err, ErrNotFound)

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint at all"), 0o644))
	assert.ErrorIs(t, store.Load(garbage, params), ErrCorrupt)

	path := filepath.Join(dir, "linear.ckpt")
	require.NoError(t, store.Save(path, params))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	flipped := filepath.Join(dir, "flipped.ckpt")
	require.NoError(t, os.WriteFile(flipped, data, 0o644))
	assert.ErrorIs(t, store.Load(flipped, params), ErrCorrupt)

	wider := model.NewLinear(3, 5, 1).Params()
	assert.ErrorIs(t, store.Load(path, wider), nn.ErrShapeMismatch)

	deeper, err := model.NewMLP(3, 4, []int{2}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Load(path, deeper.Params()), nn.ErrShapeMismatch)
}
