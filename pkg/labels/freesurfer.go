// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// freeSurferNeutral are the FreeSurfer label ids without a hemisphere.
var freeSurferNeutral = sets.MakeWith(
	0, 14, 15, 16, 21, 22, 23, 24, 72, 77, 80, 85,
	100, 101, 102, 103, 104, 105, 106, 107, 108, 109,
	165, 200, 201, 202, 203, 204, 205, 206, 207, 208, 209, 210,
	251, 252, 253, 254, 255, 258, 259, 260,
	331, 332, 333, 334, 335, 336, 337, 338, 339, 340,
	502, 506, 507, 508, 509, 511, 512, 514, 515, 516, 517,
	530, 531, 532, 533, 534, 535, 536, 537)

// isFreeSurferLeft returns whether id is a left hemisphere FreeSurfer label.
func isFreeSurferLeft(id int) bool {
	return (0 < id && id < 14) || (16 < id && id < 21) || (24 < id && id < 40) || (135 < id && id < 139) ||
		(1000 <= id && id <= 1035) || id == 865 || (20100 < id && id < 20110)
}

// isFreeSurferRight returns whether id is a right hemisphere FreeSurfer label.
func isFreeSurferRight(id int) bool {
	return (39 < id && id < 72) || (162 < id && id < 165) || (2000 <= id && id <= 2035) ||
		(20000 < id && id < 20010) || id == 139 || id == 866
}

// SortFreeSurfer orders the ids following the FreeSurfer convention: neutral labels first, then left
// hemisphere labels, then right hemisphere labels, each group in ascending order.
//
// If both hemispheres are present, the i-th left label is paired with the i-th right label (they must
// have the same count). If only one hemisphere is present, every label is considered neutral.
//
// It fails for ids that are not part of the FreeSurfer convention.
func SortFreeSurfer(ids []int) (*LabelList, error) {
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	var neutral, left, right []int
	for _, id := range ids {
		switch {
		case freeSurferNeutral.Has(id):
			neutral = append(neutral, id)
		case isFreeSurferLeft(id):
			left = append(left, id)
		case isFreeSurferRight(id):
			right = append(right, id)
		default:
			return nil, errors.Errorf("label %d is not in the FreeSurfer lookup table", id)
		}
	}
	slices.Sort(neutral)
	slices.Sort(left)
	slices.Sort(right)
	list := &LabelList{IDs: slices.Concat(neutral, left, right)}
	if len(left) == 0 || len(right) == 0 {
		if len(left)+len(right) > 0 {
			klog.Warningf("SortFreeSurfer: only one hemisphere present (%d left, %d right labels), all labels are treated as neutral",
				len(left), len(right))
		}
		list.NumNeutral = len(list.IDs)
		return list, nil
	}
	if len(left) != len(right) {
		return nil, errors.Errorf("FreeSurfer label list has %d left and %d right hemisphere labels, they can't be paired",
			len(left), len(right))
	}
	list.NumNeutral = len(neutral)
	for ii := range left {
		list.Pairs = append(list.Pairs, [2]int{left[ii], right[ii]})
	}
	return list, nil
}
