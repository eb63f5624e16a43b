// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ScanDir returns the sorted union of the label ids found in every label map in dir (or in the single
// label map dir points to).
//
// It fails if no label is found.
func ScanDir(dir string) ([]int, error) {
	paths, err := volumes.List(dir)
	if err != nil {
		return nil, errors.WithMessage(err, "scanning label maps")
	}
	found := sets.Make[int]()
	for ii, path := range paths {
		v, err := volumes.LoadLabels(path)
		if err != nil {
			return nil, err
		}
		before := len(found)
		for _, id := range v.Data {
			found.Insert(int(id))
		}
		klog.V(2).Infof("ScanDir: %d/%d %q: %d new labels", ii+1, len(paths), path, len(found)-before)
	}
	if len(found) == 0 {
		return nil, errors.Errorf("no labels found in the label maps of %q", dir)
	}
	ids := make([]int, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	klog.V(1).Infof("ScanDir(%q): %d label maps, %d distinct labels", dir, len(paths), len(ids))
	return ids, nil
}

// Load reads an explicit list of label ids from a ".npy" file (any numeric dtype, any shape) or a ".txt" file
// (ids separated by spaces, commas or new lines; "#" starts a comment).
func Load(path string) ([]int, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	var ids []int
	switch {
	case strings.HasSuffix(path, ".npy"):
		v, err := volumes.Load[int32](path, 0)
		if err != nil {
			return nil, err
		}
		for _, id := range v.Data {
			ids = append(ids, int(id))
		}
	case strings.HasSuffix(path, ".txt"):
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read label list %q", path)
		}
		for lineNum, line := range strings.Split(string(contents), "\n") {
			if idx := strings.Index(line, "#"); idx >= 0 {
				line = line[:idx]
			}
			fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\r' })
			for _, field := range fields {
				id, err := strconv.Atoi(field)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid label id %q in line %d of %q", field, lineNum+1, path)
				}
				ids = append(ids, id)
			}
		}
	default:
		return nil, errors.Errorf("label list file %q must be a \".npy\" or \".txt\" file", path)
	}
	if len(ids) == 0 {
		return nil, errors.Errorf("label list %q is empty", path)
	}
	return ids, nil
}

// Resolve the label ids from a source: a ".npy" or ".txt" file is loaded as an explicit list, anything
// else (a directory or a single label map) is scanned with ScanDir.
func Resolve(source string) ([]int, error) {
	if strings.HasSuffix(source, ".npy") || strings.HasSuffix(source, ".txt") {
		return Load(source)
	}
	return ScanDir(source)
}

// NewList creates the LabelList from ids: with freeSurfer it uses SortFreeSurfer, otherwise Explicit
// with numNeutral.
func NewList(ids []int, numNeutral int, freeSurfer bool) (*LabelList, error) {
	if freeSurfer {
		return SortFreeSurfer(ids)
	}
	return Explicit(ids, numNeutral)
}
