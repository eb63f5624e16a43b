// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
)

// AugmentedBatch is the spec yielded by Dataset: the raw batch drawn and its augmented samples.
type AugmentedBatch struct {
	Raw     *Batch
	Samples []*augment.Sample
}

// Tensors stacks the augmented samples into an image tensor [batch, d0, ..., dn-1, C] (float32) and a label
// tensor [batch, d0, ..., dn-1, 1] (int32), with the crop shape as spatial dimensions.
func (ab *AugmentedBatch) Tensors() (images, labels *tensors.Tensor, err error) {
	return ab.asBatch().Tensors()
}

func (ab *AugmentedBatch) asBatch() *Batch {
	b := &Batch{Images: make([]*volumes.Image, len(ab.Samples)), Labels: make([]*volumes.Labels, len(ab.Samples))}
	for ii, s := range ab.Samples {
		b.Images[ii], b.Labels[ii] = s.Image, s.Labels
	}
	return b
}

// Dataset implements train.Dataset: each Yield draws a batch from a Generator and augments it.
//
// It never returns io.EOF: use Take to limit the number of batches. It is safe for concurrent use: the random
// draws of each batch are reserved in order under a lock, so the content of the n-th batch drawn only
// depends on the seeds, even when wrapped with Parallel.
type Dataset struct {
	name      string
	generator *Generator
	augmenter *augment.Augmenter

	mu sync.Mutex
}

var (
	_ train.Dataset      = (*Dataset)(nil)
	_ train.HasShortName = (*Dataset)(nil)
)

// NewDataset creates a Dataset. The augmenter pipeline must have been built for the generator's native shape.
func NewDataset(name string, generator *Generator, augmenter *augment.Augmenter) (*Dataset, error) {
	if generator == nil || augmenter == nil {
		return nil, errors.New("NewDataset requires a generator and an augmenter")
	}
	if native := augmenter.Pipeline().NativeShape; !slices.Equal(native, generator.NativeShape()) {
		return nil, errors.Errorf("augmentation pipeline built for shape %v, but the generator yields volumes shaped %v",
			native, generator.NativeShape())
	}
	return &Dataset{name: name, generator: generator, augmenter: augmenter}, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *Dataset) ShortName() string {
	if len(ds.name) <= 3 {
		return ds.name
	}
	return ds.name[:3]
}

// Reset implements train.Dataset. It restarts the random streams of both the generator and the augmenter.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.generator.Reset()
	ds.augmenter.Reset()
}

// Next draws and augments the next batch.
func (ds *Dataset) Next() (*AugmentedBatch, error) {
	ds.mu.Lock()
	indices := ds.generator.NextIndices()
	rngs := make([]*rand.Rand, len(indices))
	for ii := range rngs {
		rngs[ii] = ds.augmenter.NextRNG()
	}
	ds.mu.Unlock()

	raw, err := ds.generator.LoadBatch(indices)
	if err != nil {
		return nil, err
	}
	ab := &AugmentedBatch{Raw: raw, Samples: make([]*augment.Sample, raw.Size())}
	for ii := range ab.Samples {
		ab.Samples[ii], err = ds.augmenter.AugmentWith(rngs[ii], raw.Images[ii], raw.Labels[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "augmenting %q", raw.Pairs[ii].Image)
		}
	}
	return ab, nil
}

// Yield implements train.Dataset. It returns the *AugmentedBatch as spec, the image and label tensors as
// inputs and the label tensor as labels.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ab, err := ds.Next()
	if err != nil {
		return
	}
	images, inputLabels, err := ab.Tensors()
	if err != nil {
		return
	}
	// Inputs and labels don't share tensors, since their ownership is transferred to the caller.
	targetLabels, err := volumes.StackTensor(ab.asBatch().Labels)
	if err != nil {
		return
	}
	return ab, []*tensors.Tensor{images, inputLabels}, []*tensors.Tensor{targetLabels}, nil
}

// takeDataset implements a train.Dataset that only yields take batches.
type takeDataset struct {
	ds          train.Dataset
	count, take int
}

// Take returns a wrapper to ds that only yields n batches, and then io.EOF until Reset.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{ds: ds, take: n}
}

// Name implements train.Dataset.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements train.Dataset.
func (ds *takeDataset) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements train.Dataset.
func (ds *takeDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.count >= ds.take {
		err = io.EOF
		return
	}
	ds.count++
	return ds.ds.Yield()
}
