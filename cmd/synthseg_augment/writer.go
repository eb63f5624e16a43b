// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

const (
	// previewWidth is the width in pixels of the PNG previews.
	previewWidth = 256

	// maxHistogramValues kept per sample for the histogram.
	maxHistogramValues = 1 << 16

	histogramBins = 64
)

// sampleWriter writes augmented samples and their previews, and collects intensity statistics.
type sampleWriter struct {
	dir                string
	preview, histogram bool

	values       plotter.Values
	bytesWritten int64
}

func newSampleWriter(dir string, preview, histogram bool) *sampleWriter {
	return &sampleWriter{dir: dir, preview: preview, histogram: histogram}
}

// write saves sample #index as "image_%04d.nii.gz" and "labels_%04d.nii.gz" (plus previews, if enabled), and
// returns its manifest entry.
func (w *sampleWriter) write(index int, s *augment.Sample, affine *mat.Dense) (*sampleEntry, error) {
	s.Image.Affine, s.Labels.Affine = affine, affine
	entry := &sampleEntry{
		Index:   index,
		Shape:   s.Image.Dims,
		Flipped: s.Flipped,
		Gamma:   s.Gamma,
	}
	entry.OutputImage = filepath.Join(w.dir, fmt.Sprintf("image_%04d.nii.gz", index))
	entry.OutputLabels = filepath.Join(w.dir, fmt.Sprintf("labels_%04d.nii.gz", index))
	if err := volumes.Save(entry.OutputImage, s.Image); err != nil {
		return nil, err
	}
	if err := volumes.Save(entry.OutputLabels, s.Labels); err != nil {
		return nil, err
	}
	for _, path := range []string{entry.OutputImage, entry.OutputLabels} {
		if info, err := os.Stat(path); err == nil {
			w.bytesWritten += info.Size()
		}
	}

	values := make([]float64, len(s.Image.Data))
	for ii, value := range s.Image.Data {
		values[ii] = float64(value)
	}
	entry.Mean, entry.Std = stat.MeanStdDev(values, nil)
	if w.histogram {
		step := max(1, len(values)/maxHistogramValues)
		for ii := 0; ii < len(values); ii += step {
			w.values = append(w.values, values[ii])
		}
	}
	if w.preview {
		if err := w.savePreviews(index, s); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("sample #%d: %s, mean=%.3f, std=%.3f, flipped=%v", index, s.Image, entry.Mean, entry.Std, s.Flipped)
	return entry, nil
}

func (w *sampleWriter) savePreviews(index int, s *augment.Sample) error {
	gray := imaging.Resize(imageSlice(s.Image), previewWidth, 0, imaging.Lanczos)
	path := filepath.Join(w.dir, fmt.Sprintf("image_%04d.png", index))
	if err := imaging.Save(gray, path); err != nil {
		return errors.Wrapf(err, "failed to save preview %q", path)
	}
	colored := imaging.Resize(labelsSlice(s.Labels), previewWidth, 0, imaging.NearestNeighbor)
	path = filepath.Join(w.dir, fmt.Sprintf("labels_%04d.png", index))
	if err := imaging.Save(colored, path); err != nil {
		return errors.Wrapf(err, "failed to save preview %q", path)
	}
	return nil
}

// sliceIndex returns, for the middle slice of the last axis (or the whole volume if 2D), the flat voxel
// index of the pixel (x, y), with x along axis 1 and y along axis 0.
func sliceIndex(dims []int) (width, height int, index func(x, y int) int) {
	height, width = dims[0], 1
	if len(dims) > 1 {
		width = dims[1]
	}
	strides := volumes.Strides(dims)
	offset := 0
	for axis := 2; axis < len(dims); axis++ {
		offset += (dims[axis] / 2) * strides[axis]
	}
	index = func(x, y int) int {
		idx := offset + y*strides[0]
		if len(dims) > 1 {
			idx += x * strides[1]
		}
		return idx
	}
	return
}

// imageSlice renders the middle slice of the first channel, with intensities expected in [0, 1].
func imageSlice(img *volumes.Image) *image.Gray {
	width, height, index := sliceIndex(img.Dims)
	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			value := img.Data[index(x, y)*img.Channels]
			out.SetGray(x, y, color.Gray{Y: uint8(min(max(value, 0), 1) * 255)})
		}
	}
	return out
}

// labelsSlice renders the middle slice of a label map, with one color per label id (black for 0).
func labelsSlice(lbl *volumes.Labels) *image.NRGBA {
	width, height, index := sliceIndex(lbl.Dims)
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			out.SetNRGBA(x, y, labelColor(lbl.Data[index(x, y)]))
		}
	}
	return out
}

// labelColor hashes the label id to a color.
func labelColor(id int32) color.NRGBA {
	if id == 0 {
		return color.NRGBA{A: 255}
	}
	h := uint32(id) * 2654435761
	return color.NRGBA{R: uint8(h >> 24), G: uint8(h >> 16), B: uint8(h >> 8), A: 255}
}

func (w *sampleWriter) saveHistogram(path string) error {
	if len(w.values) == 0 {
		return errors.New("no intensities collected for the histogram")
	}
	p := plot.New()
	p.Title.Text = "Augmented intensities"
	p.X.Label.Text = "intensity"
	p.Y.Label.Text = "density"
	hist, err := plotter.NewHist(w.values, histogramBins)
	if err != nil {
		return errors.Wrap(err, "failed to build histogram")
	}
	hist.Normalize(1)
	p.Add(hist)
	if err = p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save histogram %q", path)
	}
	return nil
}
