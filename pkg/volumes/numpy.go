// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package volumes

import (
	"slices"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// NpzVolumeKey is the array name used for volumes stored in ".npz" files. If not present, the first array
// (in lexicographic order of names) is used.
const NpzVolumeKey = "vol_data"

func isNumpy(path string) bool {
	return strings.HasSuffix(path, ".npy") || strings.HasSuffix(path, ".npz")
}

// readNumpyTensor reads the tensor in a ".npy" file, or the volume array of a ".npz" file.
func readNumpyTensor(path string) (*tensors.Tensor, error) {
	if strings.HasSuffix(path, ".npy") {
		t, err := numpy.FromNpyFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "while reading %q", path)
		}
		return t, nil
	}
	arrays, err := numpy.FromNpzFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", path)
	}
	if len(arrays) == 0 {
		return nil, errors.Errorf("no arrays in %q", path)
	}
	if t, found := arrays[NpzVolumeKey]; found {
		return t, nil
	}
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return arrays[names[0]], nil
}

// readNumpy reads a numpy volume. If the array has one more axis than numSpatial (and numSpatial > 0),
// the last axis is taken as channels. With numSpatial <= 0, every axis is spatial, except that a trailing
// axis of size <= 4 in a rank-4 array is taken as channels.
func readNumpy[T Number](path string, numSpatial int) (*Volume[T], error) {
	t, err := readNumpyTensor(path)
	if err != nil {
		return nil, err
	}
	v, err := FromTensor[T](t, numSpatial)
	if err != nil {
		return nil, errors.WithMessagef(err, "while converting array in %q", path)
	}
	return v, nil
}

// writeNumpy writes the volume as ".npy": spatial dims, plus a channels axis if Channels > 1.
func writeNumpy[T Number](path string, v *Volume[T]) error {
	t := ToTensor(v, v.Channels > 1)
	if err := numpy.ToNpyFile(t, path); err != nil {
		return errors.WithMessagef(err, "while writing %q", path)
	}
	return nil
}

// FromTensor converts a tensor to a volume of type T. See readNumpy for how numSpatial is interpreted.
//
// Float16 tensors are converted through float32. Tensors of other dtypes fail.
func FromTensor[T Number](t *tensors.Tensor, numSpatial int) (*Volume[T], error) {
	dims := slices.Clone(t.Shape().Dimensions)
	if len(dims) == 0 {
		return nil, errors.Errorf("scalar (rank 0) array is not a volume")
	}
	channels := 1
	switch {
	case numSpatial > 0 && len(dims) == numSpatial+1:
		channels = dims[len(dims)-1]
		dims = dims[:numSpatial]
	case numSpatial > 0 && len(dims) != numSpatial:
		return nil, errors.Errorf("array of shape %v doesn't have %d spatial dimensions", dims, numSpatial)
	case numSpatial <= 0 && len(dims) == 4 && dims[3] <= 4:
		channels = dims[3]
		dims = dims[:3]
	}
	for _, d := range dims {
		if d < 1 {
			return nil, errors.Errorf("empty volume of shape %v", t.Shape().Dimensions)
		}
	}
	v := &Volume[T]{Dims: dims, Channels: channels}
	var convErr error
	t.MustConstFlatData(func(flat any) {
		v.Data, convErr = convertFlat[T](flat)
	})
	if convErr != nil {
		return nil, convErr
	}
	return v, nil
}

// convertFlat converts a flat slice of a tensor to []T.
func convertFlat[T Number](flat any) ([]T, error) {
	switch values := flat.(type) {
	case []float32:
		return convertSlice[T](values), nil
	case []float64:
		return convertSlice[T](values), nil
	case []int8:
		return convertSlice[T](values), nil
	case []int16:
		return convertSlice[T](values), nil
	case []int32:
		return convertSlice[T](values), nil
	case []int64:
		return convertSlice[T](values), nil
	case []uint8:
		return convertSlice[T](values), nil
	case []uint16:
		return convertSlice[T](values), nil
	case []uint32:
		return convertSlice[T](values), nil
	case []float16.Float16:
		out := make([]T, len(values))
		for ii, value := range values {
			out[ii] = T(value.Float32())
		}
		return out, nil
	case []bool:
		out := make([]T, len(values))
		for ii, value := range values {
			if value {
				out[ii] = 1
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("array data of type %T is not supported for volumes", flat)
	}
}

func convertSlice[T Number, S Number](values []S) []T {
	out := make([]T, len(values))
	for ii, value := range values {
		out[ii] = T(value)
	}
	return out
}

// ToTensor converts the volume to a tensor shaped [d0, ..., dn-1] (plus a channels axis if withChannels).
// Data is copied.
func ToTensor[T Number](v *Volume[T], withChannels bool) *tensors.Tensor {
	dims := slices.Clone(v.Dims)
	if withChannels || v.Channels > 1 {
		dims = append(dims, v.Channels)
	}
	return tensorFromData(v.Data, dims)
}

// tensorFromData creates a tensor with the natural dtype for T.
func tensorFromData[T Number](data []T, dims []int) *tensors.Tensor {
	switch values := any(data).(type) {
	case []float32:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []float64:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []int32:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []int64:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []uint8:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []int8:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []int16:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []uint16:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	case []uint32:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	}
	// Named types (e.g. `type MyID int32`): fall back to float32 or int32.
	if isIntegral[T]() {
		return tensors.FromFlatDataAndDimensions(convertSlice[int32](data), dims...)
	}
	return tensors.FromFlatDataAndDimensions(convertSlice[float32](data), dims...)
}

// StackTensor stacks volumes of the same shape into one tensor [len(vols), d0, ..., dn-1, C].
// The channels axis is always present.
func StackTensor[T Number](vols []*Volume[T]) (*tensors.Tensor, error) {
	if len(vols) == 0 {
		return nil, errors.Errorf("StackTensor requires at least one volume")
	}
	first := vols[0]
	data := make([]T, 0, len(vols)*first.Size())
	for ii, v := range vols {
		if !SameSpatialShape(first, v) || v.Channels != first.Channels {
			return nil, errors.Errorf("StackTensor: volume #%d is %s, but volume #0 is %s", ii, v, first)
		}
		data = append(data, v.Data...)
	}
	dims := append([]int{len(vols)}, first.Dims...)
	dims = append(dims, first.Channels)
	return tensorFromData(data, dims), nil
}
