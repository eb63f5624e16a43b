// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCropShape(t *testing.T) {
	testCases := []struct {
		name         string
		native, crop []int
		divBy        int
		want         []int
	}{
		{"no crop rounded", []int{100, 100, 100}, nil, 32, []int{96, 96, 96}},
		{"clamped then rounded", []int{100, 100, 100}, []int{120, 80, 80}, 32, []int{96, 64, 64}},
		{"clamped only", []int{100, 100, 100}, []int{120, 80, 80}, 0, []int{100, 80, 80}},
		{"single value", []int{50, 60}, []int{40}, 8, []int{40, 40}},
		{"already divisible", []int{64, 64}, nil, 16, []int{64, 64}},
		{"no divisibility", []int{33, 17, 9}, nil, 1, []int{33, 17, 9}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveCropShape(tc.native, tc.crop, tc.divBy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ResolveCropShape([]int{100, 20, 100}, nil, 32)
	require.Error(t, err, "axis smaller than the divisor")
	_, err = ResolveCropShape([]int{100, 100, 100}, []int{64, 64}, 32)
	require.Error(t, err, "crop rank mismatch")
	_, err = ResolveCropShape(nil, nil, 32)
	require.Error(t, err)
}
