// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the randomized augmentation applied jointly to an image and its label map:
// label encoding, spatial deformation, cropping, flipping, bias field, intensity augmentation and label
// decoding.
//
// The pipeline is an ordered list of stages, each drawing from the single random stream owned by the
// Augmenter: a fixed seed reproduces the exact same sequence of augmented samples.
package augment

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Interpolation used to upsample the coarse random fields.
type Interpolation int

const (
	// Linear interpolation between the coarse grid points.
	Linear Interpolation = iota

	// BSpline is a cubic B-spline approximation of the coarse grid points.
	BSpline
)

// String implements fmt.Stringer.
func (i Interpolation) String() string {
	switch i {
	case Linear:
		return "linear"
	case BSpline:
		return "bspline"
	}
	return fmt.Sprintf("Interpolation(%d)", int(i))
}

// ParseInterpolation converts "linear" or "bspline" to an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "linear":
		return Linear, nil
	case "bspline", "b-spline", "cubic":
		return BSpline, nil
	}
	return Linear, errors.Errorf("unknown interpolation %q, valid values are \"linear\" or \"bspline\"", s)
}

// Params holds the immutable configuration of the augmentation. A zero bound or standard deviation
// disables the corresponding transformation.
type Params struct {
	// ScalingBounds: each axis is scaled by a factor drawn uniformly from [1-ScalingBounds, 1+ScalingBounds].
	ScalingBounds float64

	// RotationBounds in degrees: rotation angles are drawn uniformly from [-RotationBounds, RotationBounds].
	RotationBounds float64

	// ShearingBounds: shearing factors are drawn uniformly from [-ShearingBounds, ShearingBounds].
	ShearingBounds float64

	// TranslationBounds in voxels: translations are drawn uniformly from [-TranslationBounds, TranslationBounds].
	TranslationBounds float64

	// NonlinStd is the standard deviation (in voxels) of the coarse nonlinear displacement field.
	NonlinStd float64

	// NonlinShapeFactor is the ratio between the coarse displacement grid and the volume shape.
	NonlinShapeFactor float64

	// IntegrationSteps, if > 0, integrates the displacement as a stationary velocity field with this many
	// scaling and squaring steps, which makes the deformation diffeomorphic.
	IntegrationSteps int

	// BiasFieldStd is the standard deviation of the coarse log bias field.
	BiasFieldStd float64

	// BiasShapeFactor is the ratio between the coarse bias field grid and the volume shape.
	BiasShapeFactor float64

	// FieldInterpolation used to upsample the displacement and bias fields.
	FieldInterpolation Interpolation

	// Clip image intensities to [ClipMin, ClipMax] before normalization.
	Clip             bool
	ClipMin, ClipMax float64

	// NoiseStd is the standard deviation of the Gaussian noise added to the image (before normalization).
	NoiseStd float64

	// GammaStd is the standard deviation of the log of the gamma exponent.
	GammaStd float64

	// Flipping enables random left-right flips with probability 0.5.
	Flipping bool

	// FlipAxis is the left-right axis. If negative, it is derived from ReferenceAffine.
	FlipAxis int

	// ReferenceAffine is the orientation of the volumes, used to find the left-right axis. If nil, the
	// identity (RAS) is assumed.
	ReferenceAffine *mat.Dense

	// OutputShape is the requested crop shape. If empty, the full volume is used. A single value is
	// used for every axis.
	OutputShape []int

	// OutputDivByN: the output shape is rounded down to a multiple of it. Values <= 1 disable it.
	OutputDivByN int

	// SegmentationLabels, if set, lists the label ids kept in the output: any other id is set to 0.
	SegmentationLabels []int

	// StrictLabels makes unknown label ids (when encoding) or invalid indices (when decoding) an error,
	// instead of setting them to 0 with a warning.
	StrictLabels bool
}

// DefaultParams returns the default augmentation for brain MRI segmentation.
func DefaultParams() Params {
	return Params{
		ScalingBounds:      0.015,
		RotationBounds:     15,
		ShearingBounds:     0.012,
		NonlinStd:          3,
		NonlinShapeFactor:  0.04,
		BiasFieldStd:       0.3,
		BiasShapeFactor:    0.025,
		FieldInterpolation: Linear,
		GammaStd:           0.5,
		Flipping:           true,
		FlipAxis:           -1,
		OutputDivByN:       32, // 2^5, for a UNet with 5 levels.
	}
}

// Disabled returns parameters with every optional stage disabled.
func Disabled() Params {
	return Params{FlipAxis: -1}
}

// Validate returns an error for inconsistent parameters.
func (p *Params) Validate() error {
	type bound struct {
		name  string
		value float64
	}
	for _, b := range []bound{
		{"scaling_bounds", p.ScalingBounds}, {"rotation_bounds", p.RotationBounds},
		{"shearing_bounds", p.ShearingBounds}, {"translation_bounds", p.TranslationBounds},
		{"nonlin_std", p.NonlinStd}, {"nonlin_shape_factor", p.NonlinShapeFactor},
		{"bias_field_std", p.BiasFieldStd}, {"bias_shape_factor", p.BiasShapeFactor},
		{"noise_std", p.NoiseStd}, {"gamma_std", p.GammaStd},
	} {
		if b.value < 0 {
			return errors.Errorf("augmentation parameter %s=%g must be >= 0", b.name, b.value)
		}
	}
	if p.ScalingBounds >= 1 {
		return errors.Errorf("scaling_bounds=%g must be < 1, otherwise scaling factors could be <= 0", p.ScalingBounds)
	}
	if p.NonlinStd > 0 && p.NonlinShapeFactor <= 0 {
		return errors.Errorf("nonlin_std=%g requires nonlin_shape_factor > 0", p.NonlinStd)
	}
	if p.BiasFieldStd > 0 && p.BiasShapeFactor <= 0 {
		return errors.Errorf("bias_field_std=%g requires bias_shape_factor > 0", p.BiasFieldStd)
	}
	if p.NonlinShapeFactor > 1 || p.BiasShapeFactor > 1 {
		return errors.Errorf("nonlin_shape_factor=%g and bias_shape_factor=%g must be <= 1",
			p.NonlinShapeFactor, p.BiasShapeFactor)
	}
	if p.IntegrationSteps < 0 {
		return errors.Errorf("integration_steps=%d must be >= 0", p.IntegrationSteps)
	}
	if p.Clip && p.ClipMin >= p.ClipMax {
		return errors.Errorf("invalid clipping range [%g, %g]", p.ClipMin, p.ClipMax)
	}
	if p.FieldInterpolation != Linear && p.FieldInterpolation != BSpline {
		return errors.Errorf("invalid field interpolation %s", p.FieldInterpolation)
	}
	for _, d := range p.OutputShape {
		if d < 1 {
			return errors.Errorf("invalid output_shape %v", p.OutputShape)
		}
	}
	if p.ReferenceAffine != nil {
		if rows, cols := p.ReferenceAffine.Dims(); rows != 4 || cols != 4 {
			return errors.Errorf("reference affine must be 4x4, got %dx%d", rows, cols)
		}
	}
	return nil
}
