// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// synthseg_augment draws random (image, label map) pairs from a training set, augments them and writes the
// results as NIfTI volumes, along with a manifest and optional previews.
//
// It is used to inspect the augmentation configured for training. Example:
//
//	synthseg_augment -images=~/data/images -labels=~/data/labels -output=/tmp/augmented -n=10 \
//	    -set="rotation_bounds=10;output_shape=160" -preview -histogram
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/synthseg/internal/workerspool"
	"github.com/gomlx/synthseg/pkg/augment"
	"github.com/gomlx/synthseg/pkg/config"
	"github.com/gomlx/synthseg/pkg/generator"
	"github.com/gomlx/synthseg/pkg/labels"
	"github.com/gomlx/synthseg/pkg/volumes"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagImages    = flag.String("images", "", "Directory (or single file) with the training images.")
	flagLabels    = flag.String("labels", "", "Directory (or single file) with the label maps, paired with the images in sorted order.")
	flagLabelList = flag.String("label_list", "", "Label ids to segment: a \".npy\" or \".txt\" file, or a directory of label maps to scan. Defaults to scanning -labels.")
	flagOutput    = flag.String("output", "", "Directory where to write the augmented samples.")
	flagNum       = flag.Int("n", 1, "Number of augmented samples to generate.")
	flagConfig    = flag.String("config", "", "TOML file with settings, applied before -set.")
	flagPreview   = flag.Bool("preview", false, "Write PNG previews of the middle slice of each augmented sample.")
	flagHistogram = flag.Bool("histogram", false, "Write a histogram of the augmented intensities to \"histogram.png\".")
	flagParallel  = flag.Int("parallelism", 1, "Number of batches generated in parallel. "+
		"With 1 the samples are written in the order they are drawn.")
	flagScanLabels = flag.Bool("scan_labels", false, "Only scan the label maps, print the label list, write it to "+
		"\"label_list.txt\" in -output (if set) and exit.")
	flagFSSort = flag.Bool("fs_sort", true, "Sort labels following the FreeSurfer convention. "+
		"-fs_sort=false is the same as setting fs_sort=false, for non-FreeSurfer label ids.")
)

func main() {
	klog.InitFlags(nil)
	settings := config.Default()
	flagSettings := settings.CreateFlag("set")
	flag.Parse()

	var paramsSet []string
	if *flagConfig != "" {
		configPath := must.M1(fsutil.ReplaceTildeInDir(*flagConfig))
		set, err := settings.LoadTOML(configPath)
		if err != nil {
			klog.Fatalf("Failed to load -config: %+v", err)
		}
		paramsSet = append(paramsSet, set...)
	}
	set, err := settings.Parse(*flagSettings)
	if err != nil {
		klog.Fatalf("Failed to parse -set: %+v", err)
	}
	paramsSet = append(paramsSet, set...)
	if !*flagFSSort {
		must.M(settings.Set("fs_sort", false))
		paramsSet = append(paramsSet, "fs_sort")
	}
	if len(paramsSet) > 0 {
		klog.Infof("Settings changed:\n%s", settings.SprintModified(paramsSet))
	}

	if *flagLabels == "" {
		klog.Fatalf("Missing -labels. See 'synthseg_augment -help'.")
	}
	if *flagScanLabels {
		if err := scanLabels(settings); err != nil {
			klog.Fatalf("Failed to scan labels: %+v", err)
		}
		return
	}
	if *flagImages == "" || *flagOutput == "" {
		klog.Fatalf("Missing -images or -output. See 'synthseg_augment -help'.")
	}
	if *flagNum <= 0 {
		klog.Fatalf("Nothing to generate: -n=%d must be > 0.", *flagNum)
	}
	if err := generate(settings); err != nil {
		klog.Fatalf("Failed to generate augmented samples: %+v", err)
	}
}

// labelSource returns where to read the label ids from.
func labelSource() string {
	if *flagLabelList != "" {
		return *flagLabelList
	}
	return *flagLabels
}

// loadLabelList reads the label ids and orders them according to the settings.
func loadLabelList(settings *config.Settings) (*labels.LabelList, error) {
	ids, err := labels.Resolve(labelSource())
	if err != nil {
		return nil, err
	}
	return settings.LabelList(ids)
}

func scanLabels(settings *config.Settings) error {
	list, err := loadLabelList(settings)
	if err != nil {
		return err
	}
	printLabelList(list)
	if *flagOutput == "" {
		return nil
	}
	outputDir, err := makeOutputDir(*flagOutput)
	if err != nil {
		return err
	}
	return writeLabelList(filepath.Join(outputDir, "label_list.txt"), list)
}

func makeOutputDir(dir string) (string, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create output directory %q", dir)
	}
	return dir, nil
}

// generate builds the whole chain from the settings, configuration errors first, and writes the samples.
func generate(settings *config.Settings) error {
	pairs, err := volumes.Pair(*flagImages, *flagLabels)
	if err != nil {
		return err
	}
	opts, err := settings.GeneratorOptions()
	if err != nil {
		return err
	}
	if err = settings.Set("seed", opts.Seed); err != nil {
		return err
	}
	params, err := settings.AugmentParams()
	if err != nil {
		return err
	}
	list, err := loadLabelList(settings)
	if err != nil {
		return err
	}
	lut, err := labels.Build(list)
	if err != nil {
		return err
	}
	gen, err := generator.New(pairs, opts)
	if err != nil {
		return err
	}
	params.ReferenceAffine = gen.ReferenceAffine()
	pipeline, err := augment.NewPipeline(params, lut, gen.NativeShape(), workerspool.New())
	if err != nil {
		return err
	}
	ds, err := generator.NewDataset("synthseg", gen, augment.NewAugmenter(pipeline, opts.Seed))
	if err != nil {
		return err
	}
	outputDir, err := makeOutputDir(*flagOutput)
	if err != nil {
		return err
	}

	// Batches are generated in the background while samples are written.
	var source train.Dataset
	if *flagParallel > 1 {
		pds := generator.CustomParallel(ds).Parallelism(*flagParallel).Buffer(*flagParallel).Start()
		defer pds.Done()
		source = pds
	} else {
		source = generator.ReadAhead(ds, 1)
		if pds, ok := source.(*generator.ParallelDataset); ok {
			defer pds.Done()
		}
	}
	numBatches := (*flagNum + opts.BatchSize - 1) / opts.BatchSize
	source = generator.Take(source, numBatches)

	m := newManifest(settings, gen, pipeline, list)
	w := newSampleWriter(outputDir, *flagPreview, *flagHistogram)
	start := time.Now()
	bar := progressbar.NewOptions(*flagNum,
		progressbar.OptionSetDescription("Augmenting"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	for len(m.Samples) < *flagNum {
		spec, _, _, err := source.Yield()
		if err != nil {
			return errors.WithMessagef(err, "generating batch after %d samples", len(m.Samples))
		}
		ab := spec.(*generator.AugmentedBatch)
		for ii, sample := range ab.Samples {
			if len(m.Samples) >= *flagNum {
				break
			}
			entry, err := w.write(len(m.Samples), sample, ab.Raw.Images[ii].Affine)
			if err != nil {
				return err
			}
			entry.Image, entry.Labels = ab.Raw.Pairs[ii].Image, ab.Raw.Pairs[ii].Labels
			m.Samples = append(m.Samples, entry)
			_ = bar.Add(1)
		}
	}
	_ = bar.Finish()
	fmt.Println()
	m.Elapsed = time.Since(start).String()

	if *flagHistogram {
		if err = w.saveHistogram(filepath.Join(outputDir, "histogram.png")); err != nil {
			return err
		}
	}
	if err = m.save(filepath.Join(outputDir, "manifest.json")); err != nil {
		return err
	}
	printSummary(m, w.bytesWritten, outputDir)
	return nil
}

// newRunID identifies a run in its manifest.
func newRunID() string { return uuid.New().String() }
