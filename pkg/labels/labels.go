// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package labels defines the list of segmentation labels and the lookup table that maps label ids to the
// dense range 0..N-1 and back.
//
// A LabelList is partitioned into "neutral" labels, that are symmetric under a left-right flip, and
// "lateral" labels, that come in (left, right) pairs whose identities swap under a flip.
package labels

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// MaxLabelID is the largest label id supported. The lookup table is a dense slice indexed by id.
const MaxLabelID = 1 << 24

// LabelList is the ordered set of label ids of a corpus of label maps.
//
// The position of an id in IDs is its dense index.
type LabelList struct {
	// IDs in canonical order, the background 0 (if present) first.
	IDs []int

	// NumNeutral is the number of leading IDs that are not affected by a flip.
	NumNeutral int

	// Pairs of (left, right) lateral label ids, swapped by a flip.
	Pairs [][2]int
}

// Len returns the number of labels.
func (l *LabelList) Len() int { return len(l.IDs) }

// Neutral returns the neutral label ids.
func (l *LabelList) Neutral() []int { return l.IDs[:l.NumNeutral] }

// Lateral returns the lateral label ids.
func (l *LabelList) Lateral() []int { return l.IDs[l.NumNeutral:] }

// String implements fmt.Stringer.
func (l *LabelList) String() string {
	return fmt.Sprintf("LabelList(%d labels, %d neutral, %d lateral pairs)", len(l.IDs), l.NumNeutral, len(l.Pairs))
}

// checkIDs returns an error if ids is empty, has duplicates or out-of-range values.
func checkIDs(ids []int) error {
	if len(ids) == 0 {
		return errors.New("label list is empty")
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for ii, id := range sorted {
		if id < 0 || id > MaxLabelID {
			return errors.Errorf("label id %d out of the supported range [0, %d]", id, MaxLabelID)
		}
		if ii > 0 && sorted[ii-1] == id {
			return errors.Errorf("label id %d is duplicated in label list", id)
		}
	}
	return nil
}

// Explicit creates a LabelList from the given ids, sorted in ascending order (so the background 0, if
// present, comes first).
//
// The first numNeutral ids are neutral, and the remaining ones are lateral, paired consecutively:
// for ids [0, 2, 3, 4, 5] and numNeutral=1, the pairs are (2, 3) and (4, 5).
// If numNeutral < 0, every label is neutral.
func Explicit(ids []int, numNeutral int) (*LabelList, error) {
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	if numNeutral < 0 {
		numNeutral = len(sorted)
	}
	if numNeutral > len(sorted) {
		return nil, errors.Errorf("number of neutral labels %d is larger than the number of labels %d", numNeutral, len(sorted))
	}
	list := &LabelList{IDs: sorted, NumNeutral: numNeutral}
	lateral := list.Lateral()
	if len(lateral)%2 != 0 {
		return nil, errors.Errorf("%d lateral labels (after %d neutral ones) can't be paired left/right: %v",
			len(lateral), numNeutral, lateral)
	}
	for ii := 0; ii < len(lateral); ii += 2 {
		list.Pairs = append(list.Pairs, [2]int{lateral[ii], lateral[ii+1]})
	}
	return list, nil
}

// validate checks the consistency of a LabelList built by hand.
func (l *LabelList) validate() error {
	if err := checkIDs(l.IDs); err != nil {
		return err
	}
	if l.NumNeutral < 0 || l.NumNeutral > len(l.IDs) {
		return errors.Errorf("invalid number of neutral labels %d for %d labels", l.NumNeutral, len(l.IDs))
	}
	neutral := l.Neutral()
	seen := make(map[int]bool, len(l.IDs))
	for _, pair := range l.Pairs {
		for _, id := range pair {
			if !slices.Contains(l.IDs, id) || slices.Contains(neutral, id) {
				return errors.Errorf("lateral pair %v uses id %d which is not a lateral label", pair, id)
			}
			if seen[id] {
				return errors.Errorf("label id %d used in more than one lateral pair", id)
			}
			seen[id] = true
		}
	}
	return nil
}
