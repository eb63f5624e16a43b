// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func intsToString(values []int) string {
	return strings.Join(xslices.Map(values, strconv.Itoa), ", ")
}

func printLabelList(list *labels.LabelList) {
	fmt.Println(titleStyle.Render("Labels"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("# labels", humanize.Comma(int64(list.Len())))
	table.Row("neutral", intsToString(list.Neutral()))
	pairs := xslices.Map(list.Pairs, func(pair [2]int) string { return fmt.Sprintf("%d/%d", pair[0], pair[1]) })
	table.Row("left/right", strings.Join(pairs, ", "))
	fmt.Println(table.Render())
}

// writeLabelList writes the ids in order, the neutral ones in the first line and each lateral pair in the
// following ones. It can be read back with labels.Load.
func writeLabelList(path string, list *labels.LabelList) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %d labels, %d neutral\n", list.Len(), list.NumNeutral)
	sb.WriteString(intsToString(list.Neutral()) + "\n")
	for _, pair := range list.Pairs {
		fmt.Fprintf(&sb, "%d, %d\n", pair[0], pair[1])
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write label list %q", path)
	}
	return nil
}

func printSummary(m *manifest, bytesWritten int64, outputDir string) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("run", m.RunID)
	table.Row("output", outputDir)
	table.Row("# pairs", humanize.Comma(int64(m.NumPairs)))
	table.Row("# samples", humanize.Comma(int64(len(m.Samples))))
	table.Row("native shape", intsToString(m.NativeShape))
	table.Row("crop shape", intsToString(m.CropShape))
	table.Row("stages", m.Stages)
	table.Row("# labels", humanize.Comma(int64(len(m.Labels))))
	table.Row("seed", fmt.Sprintf("%v", m.Settings["seed"]))
	table.Row("written", humanize.Bytes(uint64(bytesWritten)))
	table.Row("elapsed", m.Elapsed)
	fmt.Println(table.Render())
}
