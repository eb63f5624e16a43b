// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"slices"

	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/pkg/errors"
)

// LookupTable maps label ids to dense indices 0..N-1 and back. It is immutable after Build and safe for
// concurrent use.
type LookupTable struct {
	list *LabelList

	// forward[id] is the dense index of id, or -1 if id is not in the list.
	forward []int32

	// inverse[index] is the label id.
	inverse []int32

	// flip[index] is the dense index of the flipped label.
	flip []int32

	// background is the dense index decoded to label 0: the index of 0 if it is in the list, or N otherwise.
	background int32
}

// Build the lookup table from the list. The dense index of a label is its position in list.IDs, so the
// background 0 (if present) gets index 0. If 0 is not in the list, the extra index N stands for it: it
// decodes to 0 and is never swapped by flips.
//
// It fails if the list is empty, has duplicates, or inconsistent lateral pairs.
func Build(list *LabelList) (*LookupTable, error) {
	if list == nil {
		return nil, errors.New("nil label list")
	}
	if err := list.validate(); err != nil {
		return nil, err
	}
	lut := &LookupTable{list: list}
	maxID := slices.Max(list.IDs)
	lut.forward = slices.Repeat([]int32{-1}, maxID+1)
	lut.inverse = make([]int32, len(list.IDs))
	for index, id := range list.IDs {
		lut.forward[id] = int32(index)
		lut.inverse[index] = int32(id)
	}
	if lut.forward[0] >= 0 {
		lut.background = lut.forward[0]
	} else {
		lut.background = int32(len(list.IDs))
		lut.inverse = append(lut.inverse, 0)
	}
	lut.flip = make([]int32, len(list.IDs))
	for index := range lut.flip {
		lut.flip[index] = int32(index)
	}
	for _, pair := range list.Pairs {
		left, right := lut.forward[pair[0]], lut.forward[pair[1]]
		lut.flip[left], lut.flip[right] = right, left
	}
	return lut, nil
}

// List returns the LabelList the table was built from.
func (lut *LookupTable) List() *LabelList { return lut.list }

// Len returns the number of labels N.
func (lut *LookupTable) Len() int { return len(lut.flip) }

// Background returns the dense index that decodes to label 0. It is used for unknown ids and to fill
// regions without labels.
func (lut *LookupTable) Background() int32 { return lut.background }

// Dense returns the dense label list 0..N-1.
func (lut *LookupTable) Dense() []int {
	dense := make([]int, lut.Len())
	for ii := range dense {
		dense[ii] = ii
	}
	return dense
}

// Index returns the dense index of a label id, and whether it is in the list.
func (lut *LookupTable) Index(id int) (int, bool) {
	if id < 0 || id >= len(lut.forward) || lut.forward[id] < 0 {
		return 0, false
	}
	return int(lut.forward[id]), true
}

// ID returns the label id of a dense index, and whether the index is valid. Background always maps to 0.
func (lut *LookupTable) ID(index int) (int, bool) {
	if index < 0 || index >= len(lut.inverse) {
		return 0, false
	}
	return int(lut.inverse[index]), true
}

// FlipSwap returns the permutation of dense indices applied by a left-right flip: neutral labels map to
// themselves and each lateral pair is swapped. The returned slice must not be modified.
func (lut *LookupTable) FlipSwap() []int32 { return lut.flip }

// Encode maps a volume of label ids to dense indices. Ids not in the list are mapped to Background, and
// their count is returned.
func (lut *LookupTable) Encode(v *volumes.Labels) (encoded *volumes.Labels, numUnknown int) {
	encoded = v.Clone()
	for ii, id := range v.Data {
		if id < 0 || int(id) >= len(lut.forward) || lut.forward[id] < 0 {
			encoded.Data[ii] = lut.background
			numUnknown++
			continue
		}
		encoded.Data[ii] = lut.forward[id]
	}
	return
}

// Decode maps a volume of dense indices back to label ids. Out-of-range indices are mapped to 0, and their
// count is returned.
func (lut *LookupTable) Decode(v *volumes.Labels) (decoded *volumes.Labels, numInvalid int) {
	decoded = v.Clone()
	for ii, index := range v.Data {
		if index < 0 || int(index) >= len(lut.inverse) {
			decoded.Data[ii] = 0
			numInvalid++
			continue
		}
		decoded.Data[ii] = lut.inverse[index]
	}
	return
}

// Swap applies FlipSwap in place to a volume of dense indices. Out-of-range values (including Background,
// when 0 is not in the list) are left untouched.
func (lut *LookupTable) Swap(v *volumes.Labels) {
	for ii, index := range v.Data {
		if index >= 0 && int(index) < len(lut.flip) {
			v.Data[ii] = lut.flip[index]
		}
	}
}
