// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParallelDataset is a wrapper around a train.Dataset that calls its Yield from several goroutines, and
// queues the results in a bounded buffer. See details in CustomParallel.
type ParallelDataset struct {
	Dataset train.Dataset

	// name is set by default to the underlying dataset name.
	name, shortName string

	// parallelism is the number of goroutines started generating batches.
	parallelism int

	// extraBufferSize is the size of the buffer of pre-generated batches.
	extraBufferSize int

	// impl is the actual implementation.
	impl *parallelDatasetImpl

	// keepAlive is used only to keep ParallelDataset alive in the middle of long calls.
	keepAlive int64
}

type yieldUnit struct {
	spec   any
	inputs []*tensors.Tensor
	labels []*tensors.Tensor
}

// parallelDatasetImpl separates the implementation of ParallelDataset. It doesn't point back to the
// ParallelDataset, so garbage collecting it also stops the goroutines.
type parallelDatasetImpl struct {
	config ParallelDataset // A copy of the configuration.

	err   error
	muErr sync.Mutex

	buffer        chan yieldUnit
	epochFinished chan struct{}
	stopEpoch     *closer
	stopDataset   *closer
	done          chan struct{}
}

// closer is a channel that can be closed more than once: workers stopping on error, Reset and Done may
// all close it.
type closer struct {
	c    chan struct{}
	once sync.Once
}

func newCloser() *closer { return &closer{c: make(chan struct{})} }

func (c *closer) Close() { c.once.Do(func() { close(c.c) }) }

// Parallel parallelizes yield calls of any thread-safe train.Dataset, with the default parameters.
//
// To avoid leaking goroutines, call ParallelDataset.Done when exiting.
//
// The order of the yields is not preserved: batches are returned as soon as they are ready. For a Dataset,
// the content of the batches is still reproducible, only their order may change.
func Parallel(ds train.Dataset) *ParallelDataset {
	pds := CustomParallel(ds)
	return pds.Buffer(pds.parallelism).Start()
}

// ReadAhead returns a dataset that generates up to bufferSize batches of ds in the background, so that when
// Yield is called the results are immediate. The order of the batches is preserved.
//
// If bufferSize <= 0, ds is returned unchanged.
func ReadAhead(ds train.Dataset, bufferSize int) train.Dataset {
	if bufferSize <= 0 {
		return ds
	}
	return CustomParallel(ds).Parallelism(1).Buffer(bufferSize - 1).Start()
}

// CustomParallel builds a ParallelDataset that can be used to parallelize any
// train.Dataset, as long as the underlying dataset ds is thread-safe.
//
// ParallelDataset can be further configured (see Parallelism and Buffer),
// and then one has to call Start before actually using the Dataset.
//
// Example:
//
//	ds, err := generator.NewDataset("train", gen, augmenter)
//	...
//	pds := generator.CustomParallel(ds).Parallelism(4).Buffer(8).Start()
//	defer pds.Done()
func CustomParallel(ds train.Dataset) *ParallelDataset {
	pd := &ParallelDataset{
		name:    ds.Name(),
		Dataset: ds,
	}
	if sn, ok := ds.(train.HasShortName); ok {
		pd.shortName = sn.ShortName()
	} else {
		pd.shortName = pd.name[:min(3, len(pd.name))]
	}
	pd.Parallelism(0)
	return pd
}

// Parallelism is the number of goroutines to start, each calling ds.Yield() in parallel. If set to 0 (the
// default), it uses the number of cores in the system plus 1.
//
// This must be called before a call to Start.
func (pd *ParallelDataset) Parallelism(n int) *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset invalid configuration change after Start has been called.")
		return nil
	}
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	pd.parallelism = n
	return pd
}

// WithName sets the name of the parallel dataset, and optionally its short name.
// It defaults to the original dataset name.
func (pd *ParallelDataset) WithName(name string, shortName ...string) *ParallelDataset {
	pd.name = name
	if len(shortName) > 0 {
		pd.shortName = shortName[0]
	}
	return pd
}

// Buffer reserved in the channel that collects the parallel yields.
// Notice each goroutine also holds one batch while waiting for space in the buffer.
//
// This must be called before a call to Start.
func (pd *ParallelDataset) Buffer(n int) *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset invalid configuration change after Start has been called.")
		return nil
	}
	pd.extraBufferSize = max(n, 0)
	return pd
}

// Start indicates that the dataset is finished to be configured, and starts
// the goroutines generating batches.
//
// After Start its configuration can no longer be changed.
func (pd *ParallelDataset) Start() *ParallelDataset {
	if pd.impl != nil {
		klog.Errorf("ParallelDataset.Start called more than once!?")
		return nil
	}
	impl := &parallelDatasetImpl{
		buffer:      make(chan yieldUnit, pd.extraBufferSize),
		stopDataset: newCloser(),
		config:      *pd, // Copy.
		done:        make(chan struct{}),
	}
	pd.impl = impl
	// If the ParallelDataset is garbage collected, stop all parallel goroutines.
	runtime.SetFinalizer(pd, func(pd *ParallelDataset) {
		if pd.impl != nil {
			pd.impl.stopDataset.Close()
			pd.impl = nil
		}
	})
	impl.startGoRoutines()
	return pd
}

func (impl *parallelDatasetImpl) startGoRoutines() {
	impl.epochFinished = make(chan struct{})
	impl.stopEpoch = newCloser()
	var wg sync.WaitGroup
	for range impl.config.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-impl.stopEpoch.c:
					return
				case <-impl.stopDataset.c:
					return
				default:
				}
				var unit yieldUnit
				var err error
				unit.spec, unit.inputs, unit.labels, err = impl.config.Dataset.Yield()
				if err == io.EOF {
					return
				}
				if err != nil {
					klog.Errorf("ParallelDataset %q: %+v", impl.config.name, err)
					// Fatal error, stop everything: the error is returned by the next Yield.
					impl.muErr.Lock()
					if impl.err == nil {
						impl.err = err
					}
					impl.muErr.Unlock()
					impl.stopEpoch.Close()
					impl.stopDataset.Close()
					return
				}
				select {
				case <-impl.stopEpoch.c:
					return
				case <-impl.stopDataset.c:
					return
				case impl.buffer <- unit:
				}
			}
		}()
	}

	// Controller: marks the end of the epoch, or the end of the dataset.
	epochFinished := impl.epochFinished
	go func() {
		wg.Wait()
		select {
		case <-impl.stopDataset.c:
			close(impl.done)
			return
		default:
		}
		close(epochFinished)
	}()
}

// Name implements train.Dataset.
func (pd *ParallelDataset) Name() string { return pd.name }

// ShortName implements train.HasShortName.
func (pd *ParallelDataset) ShortName() string { return pd.shortName }

// Done stops the parallel goroutines and waits for them to finish.
func (pd *ParallelDataset) Done() {
	impl := pd.impl
	if impl == nil {
		return
	}
	pd.impl = nil
	impl.stopDataset.Close()
	// Goroutines blocked on a full buffer return on stopDataset, so the wait is bounded by one Yield of the
	// underlying dataset.
	select {
	case <-impl.done:
	case <-impl.epochFinished:
		// Epoch finished before the stop: no goroutines left.
	}
}

// Reset implements train.Dataset. It stops the goroutines, discards the buffered batches, resets the
// underlying dataset and starts generating again.
func (pd *ParallelDataset) Reset() {
	impl := pd.impl
	if impl == nil {
		klog.Warningf("ParallelDataset.Reset was called before it was started with ParallelDataset.Start or after ParallelDataset.Done")
		return
	}
	impl.stopEpoch.Close()
drainDataset:
	for {
		select {
		case <-impl.stopDataset.c:
			return
		case <-impl.epochFinished:
			break drainDataset
		case <-impl.buffer:
			// Discard remaining entries.
		}
	}
	for len(impl.buffer) > 0 {
		<-impl.buffer
	}
	impl.config.Dataset.Reset()
	impl.startGoRoutines()

	// This no-op prevents pd from being garbage collected in the middle of the Reset.
	pd.keepAlive++
}

// Yield implements train.Dataset.
func (pd *ParallelDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	impl := pd.impl
	if impl == nil {
		err = errors.Errorf("ParallelDataset.Yield was called before it was started with ParallelDataset.Start or after it was stopped with ParallelDataset.Done")
		return
	}
	var unit yieldUnit
	select {
	case <-impl.stopDataset.c:
		impl.muErr.Lock()
		err = impl.err
		impl.muErr.Unlock()
		if err == nil {
			err = errors.Errorf("ParallelDataset %q was stopped", pd.name)
		}
		return
	case unit = <-impl.buffer:
	case <-impl.epochFinished:
		// No more batches being produced (until Reset() is called), but the buffer may still have some.
		select {
		case unit = <-impl.buffer:
		default:
			err = io.EOF
			return
		}
	}
	spec, inputs, labels = unit.spec, unit.inputs, unit.labels

	// This no-op prevents pd from being garbage collected in the middle of the Yield.
	pd.keepAlive++
	return
}
