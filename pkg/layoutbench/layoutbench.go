// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layoutbench measures the native Conv2D kernel over two memory layouts of the same logical
// tensors: channels-first (NCHW, the baseline) and channels-last (NHWC).
//
// Both variants run through native.Conv2DStrided, so the only difference is the order in which memory
// is visited. Run warms up both variants, records one traced call of each into a Chrome trace file,
// checks that the outputs agree and then times them.
//
// Example:
//
//	result, err := layoutbench.Run(layoutbench.Presets["small"], layoutbench.Options{})
//	if err != nil { ... }
//	fmt.Println(result)
package layoutbench

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/internal/workerspool"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/initializer"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// DefaultTracePath is where the Chrome trace is written if Options.TracePath is empty.
const DefaultTracePath = "/tmp/chrome.json"

// Tolerances used to compare the channels-last output against the baseline.
const (
	Atol = 1e-3
	Rtol = 1e-3
)

// Preset is a hardcoded benchmark configuration.
type Preset struct {
	Name string

	// InputDims are [batch, channels, height, width], KernelDims are
	// [outputChannels, channels/groups, kernelHeight, kernelWidth].
	InputDims, KernelDims [4]int

	Conv backends.ConvConfig

	// Budget is the approximate time spent timing each variant.
	Budget time.Duration
}

// Presets available by name. "default" is the reference configuration, "small" runs in milliseconds.
var Presets = map[string]Preset{
	"default": {
		Name:       "default",
		InputDims:  [4]int{32, 224, 112, 112},
		KernelDims: [4]int{224, 112, 3, 3},
		Conv: backends.ConvConfig{
			Strides:   [2]int{2, 2},
			Padding:   [2]int{1, 1},
			Dilations: [2]int{1, 1},
			Groups:    2,
		},
		Budget: 40 * time.Millisecond,
	},
	"small": {
		Name:       "small",
		InputDims:  [4]int{2, 8, 16, 16},
		KernelDims: [4]int{8, 4, 3, 3},
		Conv: backends.ConvConfig{
			Strides:   [2]int{2, 2},
			Padding:   [2]int{1, 1},
			Dilations: [2]int{1, 1},
			Groups:    2,
		},
		Budget: 10 * time.Millisecond,
	},
}

// PresetNames returns the sorted names of the available presets.
func PresetNames() []string {
	return slices.Sorted(maps.Keys(Presets))
}

// Validate checks that the dimensions of the preset are consistent.
func (p *Preset) Validate() error {
	groups := p.Conv.Groups
	if groups <= 0 {
		return errors.Errorf("preset %q: groups must be positive, got %d", p.Name, groups)
	}
	if p.InputDims[1] != p.KernelDims[1]*groups {
		return errors.Errorf("preset %q: input has %d channels, but kernel %v with %d groups expects %d",
			p.Name, p.InputDims[1], p.KernelDims, groups, p.KernelDims[1]*groups)
	}
	if p.KernelDims[0]%groups != 0 {
		return errors.Errorf("preset %q: %d output channels not divisible by %d groups",
			p.Name, p.KernelDims[0], groups)
	}
	for axis := range 2 {
		if p.Conv.Strides[axis] <= 0 || p.Conv.Dilations[axis] <= 0 {
			return errors.Errorf("preset %q: strides and dilations must be positive", p.Name)
		}
		if p.Conv.OutputSpatialDim(axis, p.InputDims[2+axis], p.KernelDims[2+axis]) <= 0 {
			return errors.Errorf("preset %q: kernel %v larger than padded input %v", p.Name, p.KernelDims, p.InputDims)
		}
	}
	return nil
}

// OutputDims returns the logical [batch, outputChannels, height, width] of the convolution output.
func (p *Preset) OutputDims() [4]int {
	return [4]int{
		p.InputDims[0],
		p.KernelDims[0],
		p.Conv.OutputSpatialDim(0, p.InputDims[2], p.KernelDims[2]),
		p.Conv.OutputSpatialDim(1, p.InputDims[3], p.KernelDims[3]),
	}
}

// MACs returns the number of multiply-adds of one convolution call.
func (p *Preset) MACs() int64 {
	out := p.OutputDims()
	perOutput := int64(p.KernelDims[1]) * int64(p.KernelDims[2]) * int64(p.KernelDims[3])
	return int64(out[0]) * int64(out[1]) * int64(out[2]) * int64(out[3]) * perOutput
}

// CallsPerVariant is the minimum number of convolution calls Run makes for each variant: warmup, trace,
// the time estimate and at least one timed repetition.
const CallsPerVariant = 4

// Options for Run. The zero value is valid.
type Options struct {
	// TracePath of the Chrome trace file. Defaults to DefaultTracePath.
	TracePath string

	// Parallelism of the worker pool, 0 uses all CPUs.
	Parallelism int

	// Progress receives a progress bar of the timed repetitions. Nil disables it.
	Progress io.Writer

	// Seed of the random inputs.
	Seed uint64
}

// Result of a benchmark run.
type Result struct {
	Preset     string
	OutputDims [4]int

	// Baseline and ChannelsLast are the median duration of one call of each variant.
	Baseline, ChannelsLast time.Duration

	// Repetitions timed for each variant.
	BaselineReps, ChannelsLastReps int

	TracePath string
}

// Speedup of the channels-last variant over the baseline.
func (r *Result) Speedup() float64 {
	if r.ChannelsLast == 0 {
		return 0
	}
	return float64(r.Baseline) / float64(r.ChannelsLast)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// String formats the timings as "baseline <ms> test <ms> speedup <x>".
func (r *Result) String() string {
	return fmt.Sprintf("baseline %.3fms test %.3fms speedup %.3fx",
		durationMs(r.Baseline), durationMs(r.ChannelsLast), r.Speedup())
}

// ToChannelsLast returns a view over a copy of the channels-first data (with logical dims [N, C, H, W])
// stored in channels-last (NHWC) order.
func ToChannelsLast[T any](data []T, dims [4]int) native.Strided4D[T] {
	dst := native.ChannelsLast(make([]T, len(data)), dims)
	CopyStrided(native.ChannelsFirst(data, dims), dst)
	return dst
}

// CopyStrided copies every logical element of src into dst. Both must have the same dims.
func CopyStrided[T any](src, dst native.Strided4D[T]) {
	if src.Dims != dst.Dims {
		panic(errors.Errorf("CopyStrided: dims don't match, %v and %v", src.Dims, dst.Dims))
	}
	for i0 := range src.Dims[0] {
		for i1 := range src.Dims[1] {
			for i2 := range src.Dims[2] {
				for i3 := range src.Dims[3] {
					dst.Data[dst.Offset(i0, i1, i2, i3)] = src.Data[src.Offset(i0, i1, i2, i3)]
				}
			}
		}
	}
}

// variant is one of the two benchmarked convolution calls.
type variant struct {
	name          string
	input, kernel native.Strided4D[float32]
	output        native.Strided4D[float32]
	pool          *workerspool.Pool
	conv          *backends.ConvConfig
}

func (v *variant) call() {
	clear(v.output.Data)
	native.Conv2DStrided(v.pool, v.input, v.kernel, v.conv, v.output)
}

// Run executes the benchmark for the preset.
func Run(preset Preset, opts Options) (*Result, error) {
	if err := preset.Validate(); err != nil {
		return nil, err
	}
	tracePath := opts.TracePath
	if tracePath == "" {
		tracePath = DefaultTracePath
	}
	pool := workerspool.New(opts.Parallelism)
	trace := NewTrace()

	rng := initializer.NewRNG(opts.Seed)
	randomData := func(dims [4]int) []float32 {
		t := initializer.Uniform(rng, 0, 1)(shapes.Make(dtypes.Float32, dims[:]...))
		return tensors.CopyFlatData[float32](t)
	}
	xData, wData := randomData(preset.InputDims), randomData(preset.KernelDims)
	outDims := preset.OutputDims()
	outSize := outDims[0] * outDims[1] * outDims[2] * outDims[3]

	var xChan, wChan native.Strided4D[float32]
	trace.Span("to_channels_last", nil, func() {
		xChan = ToChannelsLast(xData, preset.InputDims)
		wChan = ToChannelsLast(wData, preset.KernelDims)
	})
	baseline := &variant{
		name:   "baseline",
		input:  native.ChannelsFirst(xData, preset.InputDims),
		kernel: native.ChannelsFirst(wData, preset.KernelDims),
		output: native.ChannelsFirst(make([]float32, outSize), outDims),
		pool:   pool,
		conv:   &preset.Conv,
	}
	channelsLast := &variant{
		name:   "channels_last",
		input:  xChan,
		kernel: wChan,
		output: native.ChannelsLast(make([]float32, outSize), outDims),
		pool:   pool,
		conv:   &preset.Conv,
	}

	// Warmup.
	baseline.call()
	channelsLast.call()

	for _, v := range []*variant{baseline, channelsLast} {
		trace.Span("conv2d_"+v.name, map[string]any{
			"input_dims":    v.input.Dims,
			"input_strides": v.input.Strides,
			"kernel_dims":   v.kernel.Dims,
			"groups":        v.conv.Groups,
		}, v.call)
	}
	if err := trace.WriteFile(tracePath); err != nil {
		return nil, err
	}
	klog.V(1).Infof("layoutbench: trace written to %s", tracePath)

	if err := compareOutputs(baseline.output, channelsLast.output); err != nil {
		return nil, err
	}

	result := &Result{Preset: preset.Name, OutputDims: outDims, TracePath: tracePath}
	result.Baseline, result.BaselineReps = timeIt(baseline, preset.Budget, opts.Progress)
	result.ChannelsLast, result.ChannelsLastReps = timeIt(channelsLast, preset.Budget, opts.Progress)
	klog.V(1).Infof("layoutbench %q: %s", preset.Name, result)
	return result, nil
}

// compareOutputs checks the channels-last output against the baseline, in logical order.
func compareOutputs(want, got native.Strided4D[float32]) error {
	gotFirst := native.ChannelsFirst(make([]float32, got.Size()), got.Dims)
	CopyStrided(got, gotFirst)
	dims := want.Dims[:]
	gotT := tensors.FromFlatDataAndDimensions(gotFirst.Data, dims...)
	wantT := tensors.FromFlatDataAndDimensions(want.Data, dims...)
	if m := gotT.FirstMismatch(wantT, Atol, Rtol); m != nil {
		end := min(len(want.Data), 32)
		return errors.Errorf("channels-last output differs from baseline at element %d: got %g, want %g "+
			"(atol=%g, rtol=%g); first baseline values %v, first channels-last values %v",
			m.Index, m.Got, m.Want, Atol, Rtol, want.Data[:end], gotFirst.Data[:end])
	}
	return nil
}

// timeIt estimates the cost of one call and repeats it to fill the budget (at least once).
// It returns the median duration and the number of repetitions.
func timeIt(v *variant, budget time.Duration, progress io.Writer) (time.Duration, int) {
	start := time.Now()
	v.call()
	estimate := max(time.Since(start), time.Microsecond)
	reps := int(min(max(budget/estimate, 1), 1000))

	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(reps,
		progressbar.OptionSetDescription(fmt.Sprintf("%-14s", v.name)),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("calls"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	durations := make([]time.Duration, reps)
	for ii := range durations {
		start = time.Now()
		v.call()
		durations[ii] = time.Since(start)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	slices.Sort(durations)
	return durations[reps/2], reps
}
