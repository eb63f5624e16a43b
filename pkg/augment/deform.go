// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/volumes"
)

// sampler interpolates a volume at continuous voxel coordinates.
type sampler[T volumes.Number] struct {
	v       *volumes.Volume[T]
	strides []int

	// clampEdges makes positions outside the volume take the value of the nearest edge. Otherwise
	// they are outside and filled with 0.
	clampEdges bool

	// Per goroutine buffers.
	lo   []int
	frac []float64
}

func newSampler[T volumes.Number](v *volumes.Volume[T], clampEdges bool) *sampler[T] {
	return &sampler[T]{
		v:          v,
		strides:    v.Strides(),
		clampEdges: clampEdges,
		lo:         make([]int, v.NumDims()),
		frac:       make([]float64, v.NumDims()),
	}
}

// inside returns whether x falls within the axis of dimension d, that is, whether it is nearest to one of
// its voxels: x in (-0.5, d-0.5). Both samplers use it, so image and labels agree on the volume border.
func inside(x float64, d int) bool {
	return x > -0.5 && x < float64(d)-0.5
}

// linear interpolation of all channels at coords, written to out. It returns false (and leaves out
// zeroed) if coords fall outside the volume. Positions within half a voxel of the border take the
// value at the edge.
func (s *sampler[T]) linear(coords []float64, out []float64) bool {
	clear(out)
	for axis, x := range coords {
		d := s.v.Dims[axis]
		maxX := float64(d - 1)
		if !s.clampEdges && !inside(x, d) {
			return false
		}
		x = math.Min(math.Max(x, 0), maxX)
		i0 := int(math.Floor(x))
		if i0 >= d-1 {
			i0 = max(d-2, 0)
		}
		f := x - float64(i0)
		if d == 1 {
			f = 0
		}
		s.lo[axis], s.frac[axis] = i0, f
	}
	channels := s.v.Channels
	numAxes := len(coords)
	for corner := range 1 << numAxes {
		w := 1.0
		voxel := 0
		for axis := range numAxes {
			idx := s.lo[axis]
			if corner>>axis&1 == 1 {
				if s.frac[axis] == 0 {
					w = 0
					break
				}
				idx++
				w *= s.frac[axis]
			} else {
				w *= 1 - s.frac[axis]
			}
			voxel += idx * s.strides[axis]
		}
		if w == 0 {
			continue
		}
		values := s.v.Data[voxel*channels : (voxel+1)*channels]
		for c, value := range values {
			out[c] += w * float64(value)
		}
	}
	return true
}

// nearest returns the flat voxel index nearest to coords, or -1 if outside the volume.
func (s *sampler[T]) nearest(coords []float64) int {
	voxel := 0
	for axis, x := range coords {
		d := s.v.Dims[axis]
		if !s.clampEdges && !inside(x, d) {
			return -1
		}
		idx := min(max(int(math.Round(x)), 0), d-1)
		voxel += idx * s.strides[axis]
	}
	return voxel
}

// unravel converts a flat voxel index to its position.
func unravel(voxel int, dims, pos []int) {
	for axis := len(dims) - 1; axis >= 0; axis-- {
		pos[axis] = voxel % dims[axis]
		voxel /= dims[axis]
	}
}

// Deform resamples the image (linear interpolation) and the labels (nearest neighbour) in a single pass
// through the deformation x -> c + A·(x + disp(x) - c) + t, where c is the center of the volume and A, t
// are the linear part and translation of affine. The displacement disp may be nil.
//
// Positions mapped outside the input volume are filled with 0 in the image and with fill in the labels
// (usually the dense background index). The outputs have the input shape.
func Deform(img *volumes.Image, lbl *volumes.Labels, affine *Affine, disp *Field, fill int32,
	pool *workerspool.Pool) (*volumes.Image, *volumes.Labels) {
	if !volumes.SameSpatialShape(img, lbl) {
		exceptions.Panicf("Deform: image %s and labels %s have different spatial shapes", img, lbl)
	}
	nDims := img.NumDims()
	if disp != nil && (!volumes.SameSpatialShape(img, disp) || disp.Channels != nDims) {
		exceptions.Panicf("Deform: displacement field %s doesn't match image %s", disp, img)
	}
	if affine == nil {
		affine = IdentityAffine(nDims)
	}
	linear := make([]float64, nDims*nDims)
	for row := range nDims {
		for col := range nDims {
			linear[row*nDims+col] = affine.Linear.At(row, col)
		}
	}
	center := make([]float64, nDims)
	for axis, d := range img.Dims {
		center[axis] = float64(d-1) / 2
	}

	outImg := volumes.New[float32](img.Dims, img.Channels)
	outImg.Affine = img.Affine
	outLbl := volumes.New[int32](lbl.Dims, 1)
	outLbl.Affine = lbl.Affine
	numVoxels := img.NumVoxels()
	pool.ParallelFor(numVoxels, workerspool.MinChunk, func(start, end int) {
		imgSampler := newSampler(img, false)
		lblSampler := newSampler(lbl, false)
		pos := make([]int, nDims)
		centered := make([]float64, nDims)
		src := make([]float64, nDims)
		values := make([]float64, img.Channels)
		unravel(start, img.Dims, pos)
		for voxel := start; voxel < end; voxel++ {
			for axis := range nDims {
				centered[axis] = float64(pos[axis]) - center[axis]
				if disp != nil {
					centered[axis] += disp.Data[voxel*nDims+axis]
				}
			}
			for row := range nDims {
				v := center[row] + affine.Translation[row]
				for col := range nDims {
					v += linear[row*nDims+col] * centered[col]
				}
				src[row] = v
			}
			if imgSampler.linear(src, values) {
				dst := outImg.Data[voxel*img.Channels : (voxel+1)*img.Channels]
				for c, value := range values {
					dst[c] = float32(value)
				}
			}
			if srcVoxel := lblSampler.nearest(src); srcVoxel >= 0 {
				outLbl.Data[voxel] = lbl.Data[srcVoxel]
			} else {
				outLbl.Data[voxel] = fill
			}
			incrementPos(pos, img.Dims)
		}
	})
	return outImg, outLbl
}

func incrementPos(pos, dims []int) {
	for axis := len(dims) - 1; axis >= 0; axis-- {
		pos[axis]++
		if pos[axis] < dims[axis] {
			return
		}
		pos[axis] = 0
	}
}

// IntegrateVelocity converts a stationary velocity field to a displacement field by scaling and squaring:
// the field is divided by 2^steps and then composed with itself steps times.
func IntegrateVelocity(velocity *Field, steps int, pool *workerspool.Pool) *Field {
	if steps <= 0 {
		return velocity
	}
	nDims := velocity.NumDims()
	disp := velocity.Clone()
	scale := math.Pow(2, -float64(steps))
	for ii := range disp.Data {
		disp.Data[ii] *= scale
	}
	for range steps {
		next := volumes.New[float64](disp.Dims, nDims)
		pool.ParallelFor(disp.NumVoxels(), workerspool.MinChunk, func(start, end int) {
			s := newSampler(disp, true)
			pos := make([]int, nDims)
			at := make([]float64, nDims)
			values := make([]float64, nDims)
			unravel(start, disp.Dims, pos)
			for voxel := start; voxel < end; voxel++ {
				current := disp.Data[voxel*nDims : (voxel+1)*nDims]
				for axis := range nDims {
					at[axis] = float64(pos[axis]) + current[axis]
				}
				s.linear(at, values)
				for axis := range nDims {
					next.Data[voxel*nDims+axis] = current[axis] + values[axis]
				}
				incrementPos(pos, disp.Dims)
			}
		})
		disp = next
	}
	return disp
}
