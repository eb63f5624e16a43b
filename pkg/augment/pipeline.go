// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sample is an image and its label map, transformed in place by the pipeline stages.
type Sample struct {
	Image  *volumes.Image
	Labels *volumes.Labels

	// Flipped is set by the flip stage.
	Flipped bool

	// Gamma holds the gamma exponent applied to each channel, if any.
	Gamma []float64
}

// Stage of the augmentation pipeline. Fn transforms the sample in place, drawing random numbers from rng.
//
// Stages report errors by panicking (see exceptions.Panicf): they are converted to errors by Pipeline.Apply.
type Stage struct {
	Name string
	Fn   func(s *Sample, rng *rand.Rand)
}

// Pipeline is the ordered list of enabled stages, and the configuration they close over.
// It is immutable after NewPipeline and safe for concurrent use (each call with its own rng).
type Pipeline struct {
	Params      Params
	LUT         *labels.LookupTable
	NativeShape []int
	CropShape   []int
	FlipAxis    int
	Stages      []Stage

	pool      *workerspool.Pool
	keepIndex []bool // Indexed by dense label index, if Params.SegmentationLabels is set.
}

// NewPipeline validates the parameters, resolves the crop shape for volumes of nativeShape, and
// assembles the enabled stages in order:
// encode, deform, crop, flip, bias, intensity and decode.
//
// If pool is nil, everything runs in the calling goroutine.
func NewPipeline(params Params, lut *labels.LookupTable, nativeShape []int, pool *workerspool.Pool) (*Pipeline, error) {
	if lut == nil {
		return nil, errors.New("NewPipeline requires a label lookup table")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cropShape, err := ResolveCropShape(nativeShape, params.OutputShape, params.OutputDivByN)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		Params:      params,
		LUT:         lut,
		NativeShape: slices.Clone(nativeShape),
		CropShape:   cropShape,
		FlipAxis:    params.FlipAxis,
		pool:        pool,
	}
	nDims := len(nativeShape)
	if params.Flipping {
		if p.FlipAxis < 0 {
			p.FlipAxis, err = LeftRightAxis(params.ReferenceAffine, nDims)
			if err != nil {
				return nil, err
			}
		}
		if p.FlipAxis >= nDims {
			return nil, errors.Errorf("flip axis %d invalid for volumes with %d spatial dimensions", p.FlipAxis, nDims)
		}
		if len(lut.List().Pairs) == 0 {
			klog.Warningf("flipping enabled, but the label list %s has no lateral pairs: flipped samples keep their "+
				"left/right label ids (set fs_sort or n_neutral_labels to pair them)", lut.List())
		}
	}
	if len(params.SegmentationLabels) > 0 {
		p.keepIndex = make([]bool, lut.Len())
		for _, id := range params.SegmentationLabels {
			index, found := lut.Index(id)
			if !found {
				return nil, errors.Errorf("segmentation label %d is not in the label list", id)
			}
			p.keepIndex[index] = true
		}
	}

	p.Stages = append(p.Stages, Stage{"encode", p.encode})
	if params.ScalingBounds > 0 || params.RotationBounds > 0 || params.ShearingBounds > 0 ||
		params.TranslationBounds > 0 || params.NonlinStd > 0 {
		p.Stages = append(p.Stages, Stage{"deform", p.deform})
	}
	if !slices.Equal(cropShape, nativeShape) {
		p.Stages = append(p.Stages, Stage{"crop", p.crop})
	}
	if params.Flipping {
		p.Stages = append(p.Stages, Stage{"flip", p.flip})
	}
	if params.BiasFieldStd > 0 {
		p.Stages = append(p.Stages, Stage{"bias", p.bias})
	}
	p.Stages = append(p.Stages, Stage{"intensity", p.intensity})
	p.Stages = append(p.Stages, Stage{"decode", p.decode})
	klog.V(1).Infof("augmentation pipeline: crop shape %v, stages %s", p.CropShape, p.StageNames())
	return p, nil
}

// StageNames returns the names of the enabled stages, comma separated.
func (p *Pipeline) StageNames() string {
	names := make([]string, len(p.Stages))
	for ii, stage := range p.Stages {
		names[ii] = stage.Name
	}
	return strings.Join(names, ",")
}

// Apply runs every stage on the sample, in order. Errors (and panics) of any stage are returned.
func (p *Pipeline) Apply(s *Sample, rng *rand.Rand) error {
	if s.Image == nil || s.Labels == nil {
		return errors.New("sample requires both an image and a label map")
	}
	if !volumes.SameSpatialShape(s.Image, s.Labels) {
		return errors.Errorf("image %s and labels %s have different spatial shapes", s.Image, s.Labels)
	}
	if !slices.Equal(s.Image.Dims, p.NativeShape) {
		return errors.Errorf("volume shape %v differs from the shape %v the pipeline was built for",
			s.Image.Dims, p.NativeShape)
	}
	if s.Labels.Channels != 1 {
		return errors.Errorf("label map %s must have a single channel", s.Labels)
	}
	for _, stage := range p.Stages {
		err := exceptions.TryCatch[error](func() { stage.Fn(s, rng) })
		if err != nil {
			return errors.WithMessagef(err, "augmentation stage %q", stage.Name)
		}
	}
	return nil
}

func (p *Pipeline) encode(s *Sample, _ *rand.Rand) {
	encoded, numUnknown := p.LUT.Encode(s.Labels)
	if numUnknown > 0 {
		if p.Params.StrictLabels {
			exceptions.Panicf("label map has %d voxels with ids not in the label list", numUnknown)
		}
		klog.Warningf("label map has %d voxels with ids not in the label list, they were set to background (0)", numUnknown)
	}
	s.Labels = encoded
}

func (p *Pipeline) deform(s *Sample, rng *rand.Rand) {
	nDims := s.Image.NumDims()
	affine := SampleAffine(rng, nDims, &p.Params)
	var disp *Field
	if p.Params.NonlinStd > 0 {
		disp = SmoothField(rng, s.Image.Dims, nDims, p.Params.NonlinShapeFactor, p.Params.NonlinStd,
			p.Params.FieldInterpolation, p.pool)
		disp = IntegrateVelocity(disp, p.Params.IntegrationSteps, p.pool)
	}
	s.Image, s.Labels = Deform(s.Image, s.Labels, affine, disp, p.LUT.Background(), p.pool)
}

func (p *Pipeline) crop(s *Sample, rng *rand.Rand) {
	RandomCrop(rng, s, p.CropShape)
}

func (p *Pipeline) flip(s *Sample, rng *rand.Rand) {
	s.Flipped = RandomFlip(rng, s, p.FlipAxis, p.LUT)
}

func (p *Pipeline) bias(s *Sample, rng *rand.Rand) {
	BiasField(rng, s.Image, p.Params.BiasShapeFactor, p.Params.BiasFieldStd, p.Params.FieldInterpolation, p.pool)
}

func (p *Pipeline) intensity(s *Sample, rng *rand.Rand) {
	if p.Params.Clip {
		ClipIntensities(s.Image, p.Params.ClipMin, p.Params.ClipMax)
	}
	if p.Params.NoiseStd > 0 {
		AddNoise(rng, s.Image, p.Params.NoiseStd)
	}
	NormalizeChannels(s.Image)
	if p.Params.GammaStd > 0 {
		s.Gamma = RandomGamma(rng, s.Image, p.Params.GammaStd)
	}
}

func (p *Pipeline) decode(s *Sample, _ *rand.Rand) {
	decoded, numInvalid := p.LUT.Decode(s.Labels)
	if numInvalid > 0 {
		if p.Params.StrictLabels {
			exceptions.Panicf("augmented label map has %d voxels with invalid label indices", numInvalid)
		}
		klog.Warningf("augmented label map has %d voxels with invalid label indices, they were set to background (0)",
			numInvalid)
	}
	if p.keepIndex != nil {
		removed := 0
		for ii, index := range s.Labels.Data {
			if index >= 0 && int(index) < len(p.keepIndex) && !p.keepIndex[index] {
				decoded.Data[ii] = 0
				removed++
			}
		}
		if removed > 0 {
			klog.V(2).Infof("decode: %d voxels with labels not segmented set to 0", removed)
		}
	}
	s.Labels = decoded
}

// Augmenter applies a Pipeline to samples, drawing randomness from a single seeded stream.
//
// Each call to Augment takes a new sub-stream from the main one, so a fixed seed reproduces the same
// sequence of augmentations, provided the calls are made in the same order. It is safe for concurrent use.
type Augmenter struct {
	pipeline *Pipeline
	seed     uint64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAugmenter creates an Augmenter with the given seed.
func NewAugmenter(pipeline *Pipeline, seed uint64) *Augmenter {
	return &Augmenter{pipeline: pipeline, seed: seed, rng: NewRNG(seed)}
}

// Pipeline returns the pipeline used.
func (a *Augmenter) Pipeline() *Pipeline { return a.pipeline }

// Seed returns the seed of the random stream.
func (a *Augmenter) Seed() uint64 { return a.seed }

// Reset restarts the random stream from the seed.
func (a *Augmenter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rng = NewRNG(a.seed)
}

// NextRNG returns the random generator for the next sample, taken from the main stream.
func (a *Augmenter) NextRNG() *rand.Rand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return rand.New(rand.NewPCG(a.rng.Uint64(), a.rng.Uint64()))
}

// Augment returns an augmented copy of the image and label map. The inputs are not modified.
//
// The output image is float32 with values in [0, 1], and the labels hold the original label ids, both with
// the pipeline's CropShape.
func (a *Augmenter) Augment(img *volumes.Image, lbl *volumes.Labels) (*Sample, error) {
	return a.AugmentWith(a.NextRNG(), img, lbl)
}

// AugmentWith is like Augment, but draws the randomness from rng, usually taken earlier with NextRNG.
// It allows the random draws to be reserved in order, while the augmentation itself runs concurrently.
func (a *Augmenter) AugmentWith(rng *rand.Rand, img *volumes.Image, lbl *volumes.Labels) (*Sample, error) {
	if img == nil || lbl == nil {
		return nil, errors.New("Augment requires both an image and a label map")
	}
	s := &Sample{Image: img.Clone(), Labels: lbl}
	if err := a.pipeline.Apply(s, rng); err != nil {
		return nil, err
	}
	return s, nil
}

// AugmentBatch augments each pair of a batch, in order.
func (a *Augmenter) AugmentBatch(imgs []*volumes.Image, lbls []*volumes.Labels) ([]*Sample, error) {
	if len(imgs) != len(lbls) {
		return nil, errors.Errorf("AugmentBatch: %d images but %d label maps", len(imgs), len(lbls))
	}
	samples := make([]*Sample, len(imgs))
	for ii := range imgs {
		var err error
		samples[ii], err = a.Augment(imgs[ii], lbls[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "sample #%d of batch", ii)
		}
	}
	return samples, nil
}
