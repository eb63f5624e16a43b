// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/config"
	"github.com/gomlx/synthseg/pkg/generator"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/pkg/errors"
)

// manifest describes a run: its configuration and every sample written.
type manifest struct {
	RunID       string         `json:"run_id"`
	Created     time.Time      `json:"created"`
	Elapsed     string         `json:"elapsed,omitempty"`
	Settings    map[string]any `json:"settings"`
	NumPairs    int            `json:"num_pairs"`
	NativeShape []int          `json:"native_shape"`
	CropShape   []int          `json:"crop_shape"`
	Stages      string         `json:"stages"`
	Labels      []int          `json:"labels"`
	NumNeutral  int            `json:"num_neutral_labels"`
	Samples     []*sampleEntry `json:"samples"`
}

// sampleEntry describes one augmented sample.
type sampleEntry struct {
	Index        int       `json:"index"`
	Image        string    `json:"image"`
	Labels       string    `json:"labels"`
	OutputImage  string    `json:"output_image"`
	OutputLabels string    `json:"output_labels"`
	Shape        []int     `json:"shape"`
	Flipped      bool      `json:"flipped"`
	Gamma        []float64 `json:"gamma,omitempty"`
	Mean         float64   `json:"mean"`
	Std          float64   `json:"std"`
}

func newManifest(settings *config.Settings, gen *generator.Generator, pipeline *augment.Pipeline, list *labels.LabelList) *manifest {
	return &manifest{
		RunID:       newRunID(),
		Created:     time.Now(),
		Settings:    settings.Map(),
		NumPairs:    gen.NumPairs(),
		NativeShape: gen.NativeShape(),
		CropShape:   pipeline.CropShape,
		Stages:      pipeline.StageNames(),
		Labels:      list.IDs,
		NumNeutral:  list.NumNeutral,
	}
}

func (m *manifest) save(path string) error {
	contents, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize manifest")
	}
	if err = os.WriteFile(path, contents, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write manifest %q", path)
	}
	return nil
}
