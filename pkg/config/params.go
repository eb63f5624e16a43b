// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/generator"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Default returns the settings with the default values used to train brain MRI segmentation models.
func Default() *Settings {
	s := NewSettings()
	s.Define("batch_size", 1, "Number of (image, labels) pairs per batch.").
		Define("seed", uint64(0), "Seed of the random streams. 0 uses a time-based seed.").
		Define("align_to_ras", true, "Permute and flip the volume axes to the RAS orientation after loading.").

		// Spatial augmentation.
		Define("scaling_bounds", 0.015, "Scaling factors are drawn from [1-scaling_bounds, 1+scaling_bounds]. 0 disables it.").
		Define("rotation_bounds", 15.0, "Rotation angles, in degrees, are drawn from [-rotation_bounds, rotation_bounds]. 0 disables it.").
		Define("shearing_bounds", 0.012, "Shearing factors are drawn from [-shearing_bounds, shearing_bounds]. 0 disables it.").
		Define("translation_bounds", 0.0, "Translations, in voxels, are drawn from [-translation_bounds, translation_bounds]. 0 disables it.").
		Define("nonlin_std", 3.0, "Standard deviation, in voxels, of the nonlinear deformation. 0 disables it.").
		Define("nonlin_shape_factor", 0.04, "Ratio between the coarse nonlinear deformation grid and the volume shape.").
		Define("integration_steps", 0, "If > 0, the nonlinear deformation is integrated as a velocity field with these many steps.").
		Define("flipping", true, "Randomly flip the volumes along the left-right axis, swapping lateralized labels.").
		Define("flip_axis", -1, "Left-right axis. If negative it is derived from the volume orientation.").

		// Intensity augmentation.
		Define("bias_field_std", 0.3, "Standard deviation of the coarse log bias field. 0 disables it.").
		Define("bias_shape_factor", 0.025, "Ratio between the coarse bias field grid and the volume shape.").
		Define("field_interpolation", "linear", "Interpolation used to upsample the random fields: \"linear\" or \"bspline\".").
		Define("clip", []float64{}, "If set to \"min,max\", intensities are clipped to this range before normalization.").
		Define("noise_std", 0.0, "Standard deviation of the Gaussian noise added to the images. 0 disables it.").
		Define("gamma_std", 0.5, "Standard deviation of the log of the random gamma exponent. 0 disables it.").

		// Output shape.
		Define("output_shape", []int{}, "Shape of the random crop. Empty uses the full volume, a single value is used for every axis.").
		Define("n_levels", 5, "Number of levels of the segmentation network: the output shape is made divisible by 2^n_levels.").
		Define("output_div_by_n", 0, "If > 0, overrides the divisibility derived from n_levels.").

		// Labels.
		Define("n_neutral_labels", -1, "Number of labels without a lateral counterpart. Negative means all labels are neutral.").
		Define("fs_sort", true, "Order labels following the FreeSurfer convention (pairing left and right "+
			"hemisphere labels), ignoring n_neutral_labels. Set to false for non-FreeSurfer label ids.").
		Define("segmentation_labels", []int{}, "If set, only these label ids are kept in the output label maps, others become 0.").
		Define("strict_labels", false, "Unknown label ids are an error, instead of being set to 0 with a warning.")
	return s
}

// AugmentParams converts the settings to the augmentation parameters, and validates them.
func (s *Settings) AugmentParams() (augment.Params, error) {
	var p augment.Params
	p.ScalingBounds = GetOr(s, "scaling_bounds", 0.0)
	p.RotationBounds = GetOr(s, "rotation_bounds", 0.0)
	p.ShearingBounds = GetOr(s, "shearing_bounds", 0.0)
	p.TranslationBounds = GetOr(s, "translation_bounds", 0.0)
	p.NonlinStd = GetOr(s, "nonlin_std", 0.0)
	p.NonlinShapeFactor = GetOr(s, "nonlin_shape_factor", 0.0)
	p.IntegrationSteps = GetOr(s, "integration_steps", 0)
	p.Flipping = GetOr(s, "flipping", false)
	p.FlipAxis = GetOr(s, "flip_axis", -1)
	p.BiasFieldStd = GetOr(s, "bias_field_std", 0.0)
	p.BiasShapeFactor = GetOr(s, "bias_shape_factor", 0.0)
	p.NoiseStd = GetOr(s, "noise_std", 0.0)
	p.GammaStd = GetOr(s, "gamma_std", 0.0)
	p.StrictLabels = GetOr(s, "strict_labels", false)
	if ids := GetOr(s, "segmentation_labels", []int{}); len(ids) > 0 {
		p.SegmentationLabels = ids
	}
	if shape := GetOr(s, "output_shape", []int{}); len(shape) > 0 {
		p.OutputShape = shape
	}

	var err error
	p.FieldInterpolation, err = augment.ParseInterpolation(GetOr(s, "field_interpolation", "linear"))
	if err != nil {
		return p, err
	}
	switch clip := GetOr(s, "clip", []float64{}); len(clip) {
	case 0:
	case 2:
		p.Clip, p.ClipMin, p.ClipMax = true, clip[0], clip[1]
	default:
		return p, errors.Errorf("clip must be empty or \"min,max\", got %v", clip)
	}

	p.OutputDivByN = GetOr(s, "output_div_by_n", 0)
	if p.OutputDivByN <= 0 {
		nLevels := GetOr(s, "n_levels", 0)
		if nLevels < 0 || nLevels > 16 {
			return p, errors.Errorf("n_levels=%d must be between 0 and 16", nLevels)
		}
		p.OutputDivByN = 1 << nLevels
	}
	if err = p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// GeneratorOptions converts the settings to the sample generator options. A seed of 0 is replaced by a
// time-based one, logged so the run can be reproduced.
func (s *Settings) GeneratorOptions() (generator.Options, error) {
	opts := generator.Options{
		BatchSize:  GetOr(s, "batch_size", 1),
		Seed:       GetOr(s, "seed", uint64(0)),
		AlignToRAS: GetOr(s, "align_to_ras", true),
	}
	if opts.BatchSize < 1 {
		return opts, errors.Errorf("batch_size=%d must be >= 1", opts.BatchSize)
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
		klog.Infof("no seed given, using seed=%d", opts.Seed)
	}
	return opts, nil
}

// LabelList builds the label list from ids using the label settings (n_neutral_labels, fs_sort).
func (s *Settings) LabelList(ids []int) (*labels.LabelList, error) {
	fsSort := GetOr(s, "fs_sort", true)
	list, err := labels.NewList(ids, GetOr(s, "n_neutral_labels", -1), fsSort)
	if err != nil && fsSort {
		return nil, errors.WithMessage(err, "fs_sort=true, set fs_sort=false for label ids not following FreeSurfer")
	}
	return list, err
}
