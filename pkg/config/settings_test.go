// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	s := Default()
	paramsSet, err := s.Parse("rotation_bounds=10; flipping=false;batch_size=1_000;output_shape=96,96,64;field_interpolation=bspline")
	require.NoError(t, err)
	assert.Equal(t, []string{"rotation_bounds", "flipping", "batch_size", "output_shape", "field_interpolation"}, paramsSet)
	assert.Equal(t, 10.0, GetOr(s, "rotation_bounds", 0.0))
	assert.Equal(t, false, GetOr(s, "flipping", true))
	assert.Equal(t, 1000, GetOr(s, "batch_size", 0))
	assert.Equal(t, []int{96, 96, 64}, GetOr(s, "output_shape", []int(nil)))
	assert.Contains(t, s.SprintModified(paramsSet), `"rotation_bounds": (float64) 10`)

	for _, bad := range []string{
		"unknown_param=1",
		"rotation_bounds=abc",
		"batch_size=1.5",
		"flipping",
		"output_shape=1,x",
	} {
		_, err = Default().Parse(bad)
		assert.Error(t, err, "setting %q should fail", bad)
	}
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	txtPath := filepath.Join(dir, "settings.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("# Comment\nnonlin_std=2;gamma_std=0\n\nseed=7\n"), 0o644))
	tomlPath := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
rotation_bounds = 5
clip = [0, 80.5]
output_shape = [64, 64, 64]
fs_sort = false
`), 0o644))

	s := Default()
	paramsSet, err := s.Parse("file:" + txtPath + ";file:" + tomlPath + ";bias_field_std=0.5")
	require.NoError(t, err)
	assert.Equal(t, []string{"nonlin_std", "gamma_std", "seed", "rotation_bounds", "clip", "output_shape",
		"fs_sort", "bias_field_std"}, paramsSet)
	assert.Equal(t, 2.0, GetOr(s, "nonlin_std", 0.0))
	assert.Equal(t, uint64(7), GetOr(s, "seed", uint64(0)))
	assert.Equal(t, 5.0, GetOr(s, "rotation_bounds", 0.0))
	assert.Equal(t, []float64{0, 80.5}, GetOr(s, "clip", []float64(nil)))
	assert.Equal(t, false, GetOr(s, "fs_sort", true))

	badTOML := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badTOML, []byte("not_a_param = 1\n"), 0o644))
	_, err = Default().Parse("file:" + badTOML)
	require.ErrorContains(t, err, "not_a_param")

	mismatchTOML := filepath.Join(dir, "mismatch.toml")
	require.NoError(t, os.WriteFile(mismatchTOML, []byte("batch_size = \"two\"\n"), 0o644))
	_, err = Default().Parse("file:" + mismatchTOML)
	require.Error(t, err)

	_, err = Default().Parse("file:" + filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestSet(t *testing.T) {
	s := Default()
	require.NoError(t, s.Set("seed", uint64(3)))
	require.Error(t, s.Set("seed", 3), "int is not uint64")
	require.Error(t, s.Set("unknown", 3))
}

func TestAugmentParams(t *testing.T) {
	p, err := Default().AugmentParams()
	require.NoError(t, err)
	want := augment.DefaultParams()
	assert.Equal(t, want, p)

	s := Default()
	_, err = s.Parse("clip=-10,100;n_levels=3;output_shape=80")
	require.NoError(t, err)
	p, err = s.AugmentParams()
	require.NoError(t, err)
	assert.True(t, p.Clip)
	assert.Equal(t, -10.0, p.ClipMin)
	assert.Equal(t, 100.0, p.ClipMax)
	assert.Equal(t, 8, p.OutputDivByN)
	assert.Equal(t, []int{80}, p.OutputShape)

	s = Default()
	_, err = s.Parse("output_div_by_n=1")
	require.NoError(t, err)
	p, err = s.AugmentParams()
	require.NoError(t, err)
	assert.Equal(t, 1, p.OutputDivByN)

	for _, bad := range []string{"clip=1", "clip=5,1", "scaling_bounds=-1", "field_interpolation=cubic_spline", "n_levels=40"} {
		s = Default()
		_, err = s.Parse(bad)
		require.NoError(t, err)
		_, err = s.AugmentParams()
		assert.Error(t, err, "settings %q should be invalid", bad)
	}
}

func TestGeneratorOptions(t *testing.T) {
	s := Default()
	_, err := s.Parse("batch_size=4;seed=11;align_to_ras=false")
	require.NoError(t, err)
	opts, err := s.GeneratorOptions()
	require.NoError(t, err)
	assert.Equal(t, 4, opts.BatchSize)
	assert.Equal(t, uint64(11), opts.Seed)
	assert.False(t, opts.AlignToRAS)

	opts, err = Default().GeneratorOptions()
	require.NoError(t, err)
	assert.NotZero(t, opts.Seed)

	s = Default()
	_, err = s.Parse("batch_size=0")
	require.NoError(t, err)
	_, err = s.GeneratorOptions()
	require.Error(t, err)
}

func TestLabelList(t *testing.T) {
	s := Default()
	list, err := s.LabelList([]int{3, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, list.IDs)
	assert.Equal(t, 3, list.NumNeutral)

	// Default settings pair FreeSurfer hemispheres, so flips swap left and right labels.
	require.True(t, GetOr(s, "flipping", false))
	list, err = s.LabelList([]int{0, 2, 3, 41, 42})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2, 41}, {3, 42}}, list.Pairs)
	lut, err := labels.Build(list)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 3, 4, 1, 2}, lut.FlipSwap())

	// Non-FreeSurfer ids require fs_sort=false.
	_, err = s.LabelList([]int{0, 1, 9999})
	require.ErrorContains(t, err, "fs_sort=false")

	_, err = s.Parse("n_neutral_labels=1;fs_sort=false")
	require.NoError(t, err)
	list, err = s.LabelList([]int{0, 1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {3, 4}}, list.Pairs)
}
