package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

func TestLinearTrainingReducesLoss(t *testing.T) {
	m := NewLinear(3, 4, 1)
	opt := nn.NewSGD(m.Params(), 0.1, 0, 0)
	inputs := mat.NewDense(2, 4, []float64{
		0.1, 0.2, 0.3, 0.4,
		0.4, 0.3, 0.2, 0.1,
	})
	labels := []int{1, 2}

	step := func() float64 {
		opt.ZeroGrad()
		logits, err := m.Forward(inputs)
		require.NoError(t, err)
		loss, grad, err := nn.CrossEntropy{}.Loss(logits, labels)
		require.NoError(t, err)
		_, err = m.Backward(grad)
		require.NoError(t, err)
		opt.Step()
		return loss
	}
	loss1 := step()
	loss2 := step()
	assert.Less(t, loss2, loss1)
}

func TestMLPInputGradientMatchesFiniteDifference(t *testing.T) {
	m, err := NewMLP(3, 4, []int{5}, 7)
	require.NoError(t, err)
	x := mat.NewDense(1, 4, []float64{0.3, -0.2, 0.5, 0.1})
	labels := []int{2}

	lossAt := func(in *mat.Dense) float64 {
		logits, err := m.Forward(in)
		require.NoError(t, err)
		loss, _, err := nn.CrossEntropy{}.Loss(logits, labels)
		require.NoError(t, err)
		return loss
	}

	logits, err := m.Forward(x)
	require.NoError(t, err)
	_, grad, err := nn.CrossEntropy{}.Loss(logits, labels)
	require.NoError(t, err)
	dx, err := m.Backward(grad)
	require.NoError(t, err)

	const h = 1e-5
	for j := 0; j < 4; j++ {
		plus := mat.DenseCopyOf(x)
		plus.Set(0, j, x.At(0, j)+h)
		minus := mat.DenseCopyOf(x)
		minus.Set(0, j, x.At(0, j)-h)
		numeric := (lossAt(plus) - lossAt(minus)) / (2 * h)
		assert.InDelta(t, numeric, dx.At(0, j), 1e-4, "input %d", j)
	}
}

func TestForwardRejectsWrongWidth(t *testing.T) {
	m := NewLinear(10, 12, 1)
	_, err := m.Forward(mat.NewDense(2, 5, nil))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"mlp", "softmax"}, reg.Kinds())

	m, err := reg.Build(Spec{Kind: "mlp", Hidden: []int{8, 4}, InputSize: 6, NumClasses: 3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 6, m.InputSize())
	assert.Equal(t, 3, m.NumClasses())
	assert.Len(t, m.Params(), 6)

	_, err = reg.Build(Spec{Kind: "vgg16", InputSize: 6, NumClasses: 3})
	assert.Error(t, err)

	_, err = reg.Build(Spec{Kind: "mlp", InputSize: 6, NumClasses: 3})
	assert.Error(t, err)
}

func TestSameSeedBuildsSameModel(t *testing.T) {
	a := NewLinear(4, 9, 42)
	b := NewLinear(4, 9, 42)
	x := mat.NewDense(1, 9, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	pa, err := Predict(a, x)
	require.NoError(t, err)
	pb, err := Predict(b, x)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
	assert.True(t, mat.Equal(a.Params()[0].Value, b.Params()[0].Value))
}
