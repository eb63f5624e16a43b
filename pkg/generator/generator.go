// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package generator draws random (image, label map) pairs from a catalog of volumes and assembles them into
// batches: the raw input of the augmentation.
//
// Generator is the lazy, unbounded and restartable stream of raw batches, and Dataset wraps a Generator and
// an augment.Augmenter into a train.Dataset that yields augmented tensors, ready for a training loop.
package generator

import (
	"iter"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Options of a Generator.
type Options struct {
	// BatchSize is the number of pairs in each batch. It must be >= 1.
	BatchSize int

	// Seed of the stream of random pair indices.
	Seed uint64

	// AlignToRAS permutes and flips the axes of every loaded volume to the RAS orientation.
	AlignToRAS bool
}

// Batch of raw (not augmented) pairs. Images and Labels are indexed by the position in the batch.
type Batch struct {
	Images []*volumes.Image
	Labels []*volumes.Labels

	// Indices of the pairs drawn, and their files.
	Indices []int
	Pairs   []volumes.PathPair
}

// Size returns the number of pairs in the batch.
func (b *Batch) Size() int { return len(b.Images) }

// Tensors stacks the batch into an image tensor shaped [batch, d0, ..., dn-1, C] (float32) and a label tensor
// shaped [batch, d0, ..., dn-1, 1] (int32).
//
// The batch axis is kept also for batches of size 1.
func (b *Batch) Tensors() (images, labels *tensors.Tensor, err error) {
	images, err = volumes.StackTensor(b.Images)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "stacking images")
	}
	labels, err = volumes.StackTensor(b.Labels)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "stacking label maps")
	}
	return
}

// Generator is an unbounded stream of batches of pairs drawn uniformly at random, with replacement.
//
// Volumes are read from storage at every draw: nothing is cached. It is safe for concurrent use.
type Generator struct {
	pairs []volumes.PathPair
	opts  Options

	nativeShape []int
	channels    int
	reference   *mat.Dense

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator over the given pairs.
//
// Configuration errors fail here, before any random draw: an empty list of pairs, or an invalid batch size.
// The native shape (and number of channels) of the volumes is read from the header of the first image, and
// every volume loaded later must match it.
func New(pairs []volumes.PathPair, opts Options) (*Generator, error) {
	if len(pairs) == 0 {
		return nil, errors.New("generator requires at least one (image, label map) pair")
	}
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d, it must be >= 1", opts.BatchSize)
	}
	info, err := volumes.Info(pairs[0].Image)
	if err != nil {
		return nil, errors.WithMessage(err, "reading the shape of the first image")
	}
	g := &Generator{
		pairs:       slices.Clone(pairs),
		opts:        opts,
		nativeShape: info.Dims,
		channels:    info.Channels,
		reference:   info.Affine,
	}
	if opts.AlignToRAS && info.Affine != nil {
		axes, err := volumes.RASAxes(info.Affine, info.NumDims())
		if err != nil {
			return nil, errors.WithMessagef(err, "orientation of %q", pairs[0].Image)
		}
		g.nativeShape = make([]int, len(axes))
		for ii, axis := range axes {
			g.nativeShape[ii] = info.Dims[axis]
		}
		g.reference = nil // Volumes will be aligned to RAS.
	}
	g.Reset()
	klog.V(1).Infof("generator: %d pairs, native shape %v with %d channel(s), batch size %d",
		len(pairs), g.nativeShape, g.channels, opts.BatchSize)
	return g, nil
}

// NumPairs returns the number of pairs the generator draws from.
func (g *Generator) NumPairs() int { return len(g.pairs) }

// Options returns the generator options.
func (g *Generator) Options() Options { return g.opts }

// NativeShape returns the spatial shape of the volumes yielded (after alignment, if enabled).
func (g *Generator) NativeShape() []int { return slices.Clone(g.nativeShape) }

// Channels returns the number of channels of the images.
func (g *Generator) Channels() int { return g.channels }

// ReferenceAffine returns the orientation of the volumes yielded: nil (meaning the identity) if they
// are aligned to RAS, otherwise the affine of the first image.
func (g *Generator) ReferenceAffine() *mat.Dense { return g.reference }

// Reset restarts the random stream from the seed: the same sequence of batches is generated again.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng = rand.New(rand.NewPCG(g.opts.Seed, g.opts.Seed))
}

// NextIndices draws the pair indices of the next batch.
func (g *Generator) NextIndices() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	indices := make([]int, g.opts.BatchSize)
	for ii := range indices {
		indices[ii] = g.rng.IntN(len(g.pairs))
	}
	return indices
}

// Next draws and loads the next batch.
func (g *Generator) Next() (*Batch, error) {
	return g.LoadBatch(g.NextIndices())
}

// All returns an iterator over an unbounded sequence of batches. It stops at the first error, after
// yielding it, or when the consumer breaks.
func (g *Generator) All() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for {
			batch, err := g.Next()
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// LoadBatch loads the pairs with the given indices.
func (g *Generator) LoadBatch(indices []int) (*Batch, error) {
	batch := &Batch{
		Images:  make([]*volumes.Image, len(indices)),
		Labels:  make([]*volumes.Labels, len(indices)),
		Indices: slices.Clone(indices),
		Pairs:   make([]volumes.PathPair, len(indices)),
	}
	for ii, index := range indices {
		if index < 0 || index >= len(g.pairs) {
			return nil, errors.Errorf("pair index %d out of range [0, %d)", index, len(g.pairs))
		}
		pair := g.pairs[index]
		img, lbl, err := g.Load(pair)
		if err != nil {
			return nil, err
		}
		batch.Images[ii], batch.Labels[ii], batch.Pairs[ii] = img, lbl, pair
	}
	return batch, nil
}

// Load reads one pair, aligns it to RAS if configured, and checks its shape.
func (g *Generator) Load(pair volumes.PathPair) (img *volumes.Image, lbl *volumes.Labels, err error) {
	img, err = volumes.LoadImage(pair.Image)
	if err != nil {
		return
	}
	lbl, err = volumes.LoadLabels(pair.Labels)
	if err != nil {
		return
	}
	if g.opts.AlignToRAS {
		if img, err = volumes.AlignToRAS(img); err != nil {
			return nil, nil, errors.WithMessagef(err, "aligning %q", pair.Image)
		}
		if lbl, err = volumes.AlignToRAS(lbl); err != nil {
			return nil, nil, errors.WithMessagef(err, "aligning %q", pair.Labels)
		}
	}
	if !volumes.SameSpatialShape(img, lbl) {
		return nil, nil, errors.Errorf("image %q %s and label map %q %s have different spatial shapes",
			pair.Image, img, pair.Labels, lbl)
	}
	if !slices.Equal(img.Dims, g.nativeShape) || img.Channels != g.channels {
		return nil, nil, errors.Errorf("image %q is %s, but the generator expects volumes shaped %v with %d channel(s)",
			pair.Image, img, g.nativeShape, g.channels)
	}
	klog.V(2).Infof("generator: loaded %q and %q", pair.Image, pair.Labels)
	return img, lbl, nil
}
