// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplicit(t *testing.T) {
	list, err := Explicit([]int{5, 3, 0, 4, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 4, 5}, list.IDs)
	assert.Equal(t, []int{0}, list.Neutral())
	assert.Equal(t, [][2]int{{2, 3}, {4, 5}}, list.Pairs)

	all, err := Explicit([]int{7, 1}, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, all.NumNeutral)
	assert.Empty(t, all.Pairs)

	for name, ids := range map[string][]int{
		"empty":      {},
		"duplicated": {0, 1, 1},
		"negative":   {0, -2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Explicit(ids, 0)
			require.Error(t, err)
		})
	}
	_, err = Explicit([]int{0, 1, 2, 3}, 1)
	require.Error(t, err, "3 lateral labels can't be paired")
}

func TestBuildRoundTrip(t *testing.T) {
	list, err := Explicit([]int{17, 0, 1024, 3, 53}, -1)
	require.NoError(t, err)
	lut, err := Build(list)
	require.NoError(t, err)
	assert.Equal(t, 5, lut.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, lut.Dense())
	index, found := lut.Index(0)
	require.True(t, found)
	assert.Equal(t, 0, index)
	for _, id := range list.IDs {
		index, found := lut.Index(id)
		require.True(t, found)
		back, ok := lut.ID(index)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
	_, found = lut.Index(4)
	assert.False(t, found)

	vol, err := volumes.FromData([]int32{0, 17, 1024, 3, 99, 53}, []int{6}, 1)
	require.NoError(t, err)
	encoded, unknown := lut.Encode(vol)
	assert.Equal(t, 1, unknown)
	assert.Equal(t, []int32{0, 2, 4, 1, 0, 3}, encoded.Data)
	decoded, invalid := lut.Decode(encoded)
	assert.Zero(t, invalid)
	assert.Equal(t, []int32{0, 17, 1024, 3, 0, 53}, decoded.Data)

	encoded.Data[0] = 9
	decoded, invalid = lut.Decode(encoded)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, int32(0), decoded.Data[0])
}

func TestWithoutBackground(t *testing.T) {
	// Without 0 in the list, unknown ids still decode to 0 and not to the first label.
	list, err := Explicit([]int{3, 2}, 0)
	require.NoError(t, err)
	lut, err := Build(list)
	require.NoError(t, err)
	assert.Equal(t, 2, lut.Len())
	assert.Equal(t, int32(2), lut.Background())
	id, ok := lut.ID(int(lut.Background()))
	require.True(t, ok)
	assert.Zero(t, id)

	vol, err := volumes.FromData([]int32{7, 2, 3, 0}, []int{4}, 1)
	require.NoError(t, err)
	encoded, unknown := lut.Encode(vol)
	assert.Equal(t, 2, unknown)
	assert.Equal(t, []int32{2, 0, 1, 2}, encoded.Data)

	// Flips swap the lateral pair (2, 3), but not the background.
	lut.Swap(encoded)
	assert.Equal(t, []int32{2, 1, 0, 2}, encoded.Data)
	decoded, invalid := lut.Decode(encoded)
	assert.Zero(t, invalid)
	assert.Equal(t, []int32{0, 3, 2, 0}, decoded.Data)

	// With 0 in the list, the background is its index.
	list, err = Explicit([]int{5, 0}, -1)
	require.NoError(t, err)
	lut, err = Build(list)
	require.NoError(t, err)
	assert.Equal(t, int32(0), lut.Background())
}

func TestFlipSwap(t *testing.T) {
	list, err := Explicit([]int{0, 2, 3, 4, 5}, 1)
	require.NoError(t, err)
	lut, err := Build(list)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2, 1, 4, 3}, lut.FlipSwap())

	vol, err := volumes.FromData([]int32{0, 1, 2, 3, 4}, []int{5}, 1)
	require.NoError(t, err)
	lut.Swap(vol)
	assert.Equal(t, []int32{0, 2, 1, 4, 3}, vol.Data)
	lut.Swap(vol)
	assert.Equal(t, []int32{0, 1, 2, 3, 4}, vol.Data)

	_, err = Build(&LabelList{IDs: []int{0, 1, 2}, NumNeutral: 1, Pairs: [][2]int{{0, 1}}})
	require.Error(t, err, "neutral label in a lateral pair")
}

func TestSortFreeSurfer(t *testing.T) {
	list, err := SortFreeSurfer([]int{41, 2, 0, 17, 53, 24, 4, 43})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 24, 2, 4, 17, 41, 43, 53}, list.IDs)
	assert.Equal(t, 2, list.NumNeutral)
	assert.Equal(t, [][2]int{{2, 41}, {4, 43}, {17, 53}}, list.Pairs)

	oneSide, err := SortFreeSurfer([]int{0, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, oneSide.NumNeutral)
	assert.Empty(t, oneSide.Pairs)

	_, err = SortFreeSurfer([]int{0, 2, 41, 42, 43})
	require.Error(t, err, "unbalanced hemispheres")
	_, err = SortFreeSurfer([]int{0, 99999})
	require.Error(t, err, "unknown FreeSurfer label")
}

func TestScanAndLoad(t *testing.T) {
	dir := t.TempDir()
	v1, err := volumes.FromData([]int32{0, 0, 3, 3, 5, 5, 0, 0}, []int{2, 2, 2}, 1)
	require.NoError(t, err)
	v2, err := volumes.FromData([]int32{0, 7, 7, 0, 0, 0, 0, 3}, []int{2, 2, 2}, 1)
	require.NoError(t, err)
	require.NoError(t, volumes.Save(filepath.Join(dir, "a.nii.gz"), v1))
	require.NoError(t, volumes.Save(filepath.Join(dir, "b.nii.gz"), v2))
	ids, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 5, 7}, ids)

	ids, err = Resolve(filepath.Join(dir, "b.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 7}, ids)

	txt := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(txt, []byte("# background\n0\n2, 41 3\n42\n"), 0o644))
	ids, err = Resolve(txt)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 41, 3, 42}, ids)

	npy := filepath.Join(dir, "labels.npy")
	listVol, err := volumes.FromData([]int32{0, 4, 2}, []int{3}, 1)
	require.NoError(t, err)
	require.NoError(t, volumes.Save(npy, listVol))
	ids, err = Load(npy)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 2}, ids)

	_, err = ScanDir(t.TempDir())
	require.Error(t, err)
}
