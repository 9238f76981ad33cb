package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesHeaderOnceAcrossInvocations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")

	first := NewTable(path)
	require.NoError(t, first.Append([]Row{
		{Model: "lenet", Attacker: "generative", Epsilon: 0, TestAcc: 0.5, TestAttAcc: 0.5},
		{Model: "lenet", Attacker: "generative", Epsilon: 0.2, TestAcc: 0.5, TestAttAcc: 0.25},
	}))

	// A second process gets a fresh Table over the same file.
	second := NewTable(path)
	next, err := second.NextIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	require.NoError(t, second.Append([]Row{
		{Model: "lenet_AT", Attacker: "generative", Epsilon: 0.4, TestAcc: 0.75, TestAttAcc: 0.125},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		",Model,Attacker,Epsilon,Test_acc,Test_att_acc",
		"0,lenet,generative,0.0,0.5,0.5",
		"1,lenet,generative,0.2,0.5,0.25",
		"2,lenet_AT,generative,0.4,0.75,0.125",
	}, lines)

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "lenet_AT", rows[2].Model)
	assert.Equal(t, 0.125, rows[2].TestAttAcc)
}

func TestCounterIsOwnedPerTable(t *testing.T) {
	dir := t.TempDir()
	a := NewTable(filepath.Join(dir, "a.csv"))
	b := NewTable(filepath.Join(dir, "b.csv"))
	require.NoError(t, a.Append([]Row{{Model: "x"}, {Model: "y"}}))
	require.NoError(t, b.Append([]Row{{Model: "z"}}))

	na, err := a.NextIndex()
	require.NoError(t, err)
	nb, err := b.NextIndex()
	require.NoError(t, err)
	assert.Equal(t, 2, na)
	assert.Equal(t, 1, nb)
}

func TestFormatEpsilonKeepsFraction(t *testing.T) {
	for in, want := range map[float64]string{
		0:     "0.0",
		1:     "1.0",
		0.2:   "0.2",
		0.05:  "0.05",
		2.5e2: "250.0",
	} {
		assert.Equal(t, want, FormatEpsilon(in), "%v", in)
	}
}

func TestWholeEpsilonsKeepFractionInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, NewTable(path).Append([]Row{
		{Model: "res18", Attacker: "generative", Epsilon: 1, TestAcc: 1, TestAttAcc: 0},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0,res18,generative,1.0,1,0\n")

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].Epsilon)
}
