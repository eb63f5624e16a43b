// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDims = []int{8, 8, 8}

// writePairs writes numPairs (image, label map) pairs: image #k has values 100*k plus a gradient, and its label
// map has labels 2 and 3 in each half of axis 0.
func writePairs(t *testing.T, numPairs int) (imagesDir, labelsDir string) {
	dir := t.TempDir()
	imagesDir, labelsDir = filepath.Join(dir, "images"), filepath.Join(dir, "labels")
	require.NoError(t, os.Mkdir(imagesDir, 0o755))
	require.NoError(t, os.Mkdir(labelsDir, 0o755))
	for k := range numPairs {
		img := volumes.New[float32](testDims, 1)
		lbl := volumes.New[int32](testDims, 1)
		for ii := range img.Data {
			img.Data[ii] = float32(100*k + ii%7)
			if ii < len(lbl.Data)/2 {
				lbl.Data[ii] = 2
			} else {
				lbl.Data[ii] = 3
			}
		}
		require.NoError(t, volumes.Save(filepath.Join(imagesDir, fmt.Sprintf("img_%02d.nii.gz", k)), img))
		require.NoError(t, volumes.Save(filepath.Join(labelsDir, fmt.Sprintf("lbl_%02d.nii.gz", k)), lbl))
	}
	return
}

func newTestGenerator(t *testing.T, numPairs, batchSize int) *Generator {
	imagesDir, labelsDir := writePairs(t, numPairs)
	pairs, err := volumes.Pair(imagesDir, labelsDir)
	require.NoError(t, err)
	g, err := New(pairs, Options{BatchSize: batchSize, Seed: 42, AlignToRAS: true})
	require.NoError(t, err)
	return g
}

func TestNew(t *testing.T) {
	imagesDir, labelsDir := writePairs(t, 3)
	require.NoError(t, os.Remove(filepath.Join(labelsDir, "lbl_02.nii.gz")))
	_, err := volumes.Pair(imagesDir, labelsDir)
	require.ErrorContains(t, err, "3 images")
	require.ErrorContains(t, err, "2 label maps")

	pairs := []volumes.PathPair{{Image: filepath.Join(imagesDir, "img_00.nii.gz"), Labels: filepath.Join(labelsDir, "lbl_00.nii.gz")}}
	_, err = New(nil, Options{BatchSize: 1})
	require.Error(t, err)
	_, err = New(pairs, Options{BatchSize: 0})
	require.Error(t, err)
	_, err = New([]volumes.PathPair{{Image: filepath.Join(imagesDir, "missing.nii"), Labels: pairs[0].Labels}}, Options{BatchSize: 1})
	require.ErrorContains(t, err, "missing.nii")

	g, err := New(pairs, Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, testDims, g.NativeShape())
	assert.Equal(t, 1, g.Channels())
	assert.Equal(t, 1, g.NumPairs())
}

func TestNext(t *testing.T) {
	g := newTestGenerator(t, 4, 3)
	batch, err := g.Next()
	require.NoError(t, err)
	require.Equal(t, 3, batch.Size())
	for ii, index := range batch.Indices {
		require.True(t, index >= 0 && index < 4)
		assert.Equal(t, float32(100*index), batch.Images[ii].Data[0], "image must come from the pair drawn")
		assert.Contains(t, batch.Pairs[ii].Image, fmt.Sprintf("img_%02d", index))
	}
	images, lbls, err := batch.Tensors()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8, 8, 8, 1}, images.Shape().Dimensions)
	assert.Equal(t, []int{3, 8, 8, 8, 1}, lbls.Shape().Dimensions)

	// The batch axis is kept for a single pair.
	g1 := newTestGenerator(t, 2, 1)
	batch, err = g1.Next()
	require.NoError(t, err)
	images, _, err = batch.Tensors()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 8, 8, 1}, images.Shape().Dimensions)
}

func TestResetAndAll(t *testing.T) {
	g := newTestGenerator(t, 5, 2)
	var first [][]int
	count := 0
	for batch, err := range g.All() {
		require.NoError(t, err)
		first = append(first, batch.Indices)
		count++
		if count == 4 {
			break
		}
	}
	require.Len(t, first, 4)

	g.Reset()
	for ii := range 4 {
		assert.Equal(t, first[ii], g.NextIndices(), "batch #%d after Reset", ii)
	}

	// Indices are drawn with replacement, and cover the pairs.
	seen := make(map[int]bool)
	for range 50 {
		for _, index := range g.NextIndices() {
			seen[index] = true
		}
	}
	assert.Len(t, seen, 5)
}

func newTestDataset(t *testing.T, g *Generator) *Dataset {
	list, err := labels.Explicit([]int{0, 2, 3}, 1)
	require.NoError(t, err)
	lut, err := labels.Build(list)
	require.NoError(t, err)
	params := augment.DefaultParams()
	params.OutputShape = []int{6}
	params.OutputDivByN = 2
	params.ReferenceAffine = g.ReferenceAffine()
	pipeline, err := augment.NewPipeline(params, lut, g.NativeShape(), workerspool.New())
	require.NoError(t, err)
	ds, err := NewDataset("synth", g, augment.NewAugmenter(pipeline, 7))
	require.NoError(t, err)
	return ds
}

func TestDataset(t *testing.T) {
	g := newTestGenerator(t, 3, 2)
	ds := newTestDataset(t, g)
	assert.Equal(t, "syn", ds.ShortName())

	spec, inputs, targets, err := ds.Yield()
	require.NoError(t, err)
	ab, ok := spec.(*AugmentedBatch)
	require.True(t, ok)
	require.Len(t, ab.Samples, 2)
	require.Len(t, inputs, 2)
	require.Len(t, targets, 1)
	assert.Equal(t, []int{2, 6, 6, 6, 1}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 6, 6, 6, 1}, inputs[1].Shape().Dimensions)
	assert.Equal(t, []int{2, 6, 6, 6, 1}, targets[0].Shape().Dimensions)
	for _, s := range ab.Samples {
		for _, value := range s.Image.Data {
			require.True(t, value >= 0 && value <= 1)
		}
		for _, id := range s.Labels.Data {
			require.Contains(t, []int32{0, 2, 3}, id)
		}
	}

	// Take and Reset reproduce the same batches.
	take := Take(ds, 2)
	assert.Equal(t, "synth [Take 2]", take.Name())
	take.Reset()
	first := yieldAll(t, take)
	require.Len(t, first, 2)
	take.Reset()
	second := yieldAll(t, take)
	assert.Equal(t, first, second)

	// Mismatched pipeline shape.
	other := newTestGenerator(t, 1, 1)
	_, err = NewDataset("bad", other, augment.NewAugmenter(mustPipeline(t, []int{4, 4, 4}), 1))
	require.Error(t, err)
}

func mustPipeline(t *testing.T, shape []int) *augment.Pipeline {
	list, err := labels.Explicit([]int{0, 2, 3}, -1)
	require.NoError(t, err)
	lut, err := labels.Build(list)
	require.NoError(t, err)
	p, err := augment.NewPipeline(augment.Disabled(), lut, shape, nil)
	require.NoError(t, err)
	return p
}

// yieldAll yields until io.EOF and returns the image data of each batch.
func yieldAll(t *testing.T, ds interface {
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
}) [][]float32 {
	var all [][]float32
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			return all
		}
		require.NoError(t, err)
		var data []float32
		inputs[0].MustConstFlatData(func(flat any) {
			data = append(data, flat.([]float32)...)
		})
		all = append(all, data)
	}
}

func TestReadAhead(t *testing.T) {
	g := newTestGenerator(t, 3, 1)
	ds := newTestDataset(t, g)
	want := yieldAll(t, Take(ds, 3))

	ds.Reset()
	pds := ReadAhead(ds, 2).(*ParallelDataset)
	defer pds.Done()
	got := yieldAll(t, Take(pds, 3))
	assert.Equal(t, want, got, "read-ahead must preserve the order of the batches")
	assert.Equal(t, ds, ReadAhead(ds, 0))
}

// countingDataset yields numBatches batches holding a counter, or fails on failAt.
type countingDataset struct {
	mu                  sync.Mutex
	count, numBatches   int
	failAt, resetCalled int
}

func (ds *countingDataset) Name() string { return "counting" }

func (ds *countingDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.count = 0
	ds.resetCalled++
}

func (ds *countingDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.count == ds.failAt {
		return nil, nil, nil, errors.New("failed to generate")
	}
	if ds.count >= ds.numBatches {
		return nil, nil, nil, io.EOF
	}
	ds.count++
	return ds.count, []*tensors.Tensor{tensors.FromValue(int32(ds.count))}, nil, nil
}

func TestParallel(t *testing.T) {
	ds := &countingDataset{numBatches: 20, failAt: -1}
	pds := CustomParallel(ds).Parallelism(3).Buffer(2).WithName("parallel", "par").Start()
	defer pds.Done()
	assert.Equal(t, "parallel", pds.Name())
	assert.Equal(t, "par", pds.ShortName())

	for epoch := range 2 {
		seen := make(map[int]bool)
		for {
			spec, _, _, err := pds.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			seen[spec.(int)] = true
		}
		assert.Len(t, seen, 20, "epoch %d", epoch)
		pds.Reset()
	}
	ds.mu.Lock()
	assert.Equal(t, 2, ds.resetCalled)
	ds.mu.Unlock()

	failing := Parallel(&countingDataset{numBatches: 100, failAt: 5})
	defer failing.Done()
	var err error
	for range 10 {
		if _, _, _, err = failing.Yield(); err != nil {
			break
		}
	}
	require.ErrorContains(t, err, "failed to generate")
}
