// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package volumes

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Extensions lists the supported volume file extensions.
var Extensions = []string{".nii.gz", ".nii", ".npz", ".npy"}

// IsVolumeFile returns whether the path has one of the supported Extensions.
func IsVolumeFile(path string) bool {
	return isNIfTI(path) || isNumpy(path)
}

// List returns the volume files in dir, sorted lexicographically. If dir is a single volume file, it returns
// just that file.
//
// A leading "~" is expanded to the home directory. It fails if the path can't be read or holds no volume.
func List(dir string) ([]string, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list volumes in %q", dir)
	}
	if !info.IsDir() {
		if !IsVolumeFile(dir) {
			return nil, errors.Errorf("%q is not a supported volume file (extensions %q)", dir, Extensions)
		}
		return []string{dir}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list volumes in %q", dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !IsVolumeFile(entry.Name()) {
			klog.V(2).Infof("List(%q): skipping %q", dir, entry.Name())
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no volume files (extensions %q) found in %q", Extensions, dir)
	}
	slices.Sort(paths)
	return paths, nil
}

// PathPair is an image file and its label map.
type PathPair struct {
	Image, Labels string
}

// Pair lists images and label maps and pairs them by position.
//
// It fails if the number of files differ, before anything is read.
func Pair(imagesDir, labelsDir string) ([]PathPair, error) {
	images, err := List(imagesDir)
	if err != nil {
		return nil, errors.WithMessage(err, "listing images")
	}
	labels, err := List(labelsDir)
	if err != nil {
		return nil, errors.WithMessage(err, "listing label maps")
	}
	if len(images) != len(labels) {
		return nil, errors.Errorf("found %d images in %q but %d label maps in %q: they must be paired one to one",
			len(images), imagesDir, len(labels), labelsDir)
	}
	pairs := make([]PathPair, len(images))
	for ii := range images {
		pairs[ii] = PathPair{Image: images[ii], Labels: labels[ii]}
	}
	return pairs, nil
}

// LoadImage reads an image volume as float32.
//
// Numpy images with 4 axes (the last of size at most 4) have channels. NIfTI channels come from dim[4..7].
func LoadImage(path string) (*Image, error) {
	v, err := load[float32](path, 0)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// LoadLabels reads a label map as int32, which must have a single channel.
func LoadLabels(path string) (*Labels, error) {
	v, err := load[int32](path, 0)
	if err != nil {
		return nil, err
	}
	if v.Channels != 1 {
		return nil, errors.Errorf("label map %q has %d channels, it must have one", path, v.Channels)
	}
	return v, nil
}

// Load reads a volume of type T from any of the supported formats. For numpy files, numSpatial (if > 0)
// tells how many axes are spatial; see FromTensor.
func Load[T Number](path string, numSpatial int) (*Volume[T], error) {
	return load[T](path, numSpatial)
}

func load[T Number](path string, numSpatial int) (v *Volume[T], err error) {
	switch {
	case isNIfTI(path):
		v, err = readNIfTI[T](path)
	case isNumpy(path):
		v, err = readNumpy[T](path, numSpatial)
	default:
		return nil, errors.Errorf("unsupported volume file %q (extensions %q)", path, Extensions)
	}
	if err != nil {
		return nil, err
	}
	if v.Size() == 0 {
		return nil, errors.Errorf("volume %q is empty (%s)", path, v)
	}
	return v, nil
}

// Save writes the volume in the format given by the path extension.
func Save[T Number](path string, v *Volume[T]) error {
	switch {
	case isNIfTI(path):
		return writeNIfTI(path, v)
	case strings.HasSuffix(path, ".npy"):
		return writeNumpy(path, v)
	}
	return errors.Errorf("can't save volume to %q: only \".nii\", \".nii.gz\" and \".npy\" are supported", path)
}

// VolumeInfo describes a volume file without its data.
type VolumeInfo struct {
	Path     string
	Dims     []int
	Channels int
	Affine   *mat.Dense
}

// NumDims returns the number of spatial dimensions.
func (info *VolumeInfo) NumDims() int { return len(info.Dims) }

// Info reads the shape, channels and affine of a volume. For NIfTI files only the header is read.
func Info(path string) (*VolumeInfo, error) {
	info := &VolumeInfo{Path: path}
	if isNIfTI(path) {
		var err error
		info.Dims, info.Channels, info.Affine, err = readNIfTIHeader(path)
		if err != nil {
			return nil, err
		}
		return info, nil
	}
	v, err := load[float32](path, 0)
	if err != nil {
		return nil, err
	}
	info.Dims, info.Channels = v.Dims, v.Channels
	info.Affine = Identity()
	return info, nil
}
