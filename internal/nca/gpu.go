package nca

import (
	"context"
	"errors"
	"fmt"

	"enca/internal/device"
	"enca/internal/substrate"
)

// DeviceRunner evaluates a population of rules on a batch of seeds with one
// kernel launch on the worker's device slot.
type DeviceRunner struct {
	Pool   *device.Pool
	Kernel Kernel
}

func (r *DeviceRunner) RunBatch(ctx context.Context, worker int, rules []Rule, seeds []substrate.Substrate) ([][]Outcome, error) {
	if len(rules) == 0 || len(seeds) == 0 {
		return nil, ErrEmptyBatch
	}
	if r.Pool == nil {
		return nil, errors.New("device pool is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxSteps := rules[0].MaxSteps
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if rule.MaxSteps != maxSteps {
			return nil, fmt.Errorf("%w: rule %d has %d, rule 0 has %d", ErrUnequalSteps, i, rule.MaxSteps, maxSteps)
		}
	}

	pop, nEx := len(rules), len(seeds)
	offsets := make([]int, nEx)
	widths := make([]int, nEx)
	heights := make([]int, nEx)
	total, maxCells := 0, 0
	for i, s := range seeds {
		if s.Cells() > substrate.MaxDeviceCells {
			return nil, fmt.Errorf("%w: seed %d has %d cells, limit %d", ErrGridTooLarge, i, s.Cells(), substrate.MaxDeviceCells)
		}
		offsets[i] = total
		widths[i] = s.Width
		heights[i] = s.Height
		total += len(s.Data)
		maxCells = max(maxCells, s.Cells())
	}

	slot, err := r.Pool.Slot(worker)
	if err != nil {
		return nil, err
	}

	hostParams := make([]float32, 0, pop*substrate.NParams)
	for _, rule := range rules {
		hostParams = append(hostParams, rule.Weights...)
		hostParams = append(hostParams, rule.Biases...)
	}
	hostSeeds := make([]float32, 0, total)
	for _, s := range seeds {
		hostSeeds = append(hostSeeds, s.Data...)
	}

	params := device.Alloc[float32](len(hostParams))
	if err := params.CopyFromHost(hostParams); err != nil {
		return nil, err
	}
	seedBuf := device.Alloc[float32](total)
	if err := seedBuf.CopyFromHost(hostSeeds); err != nil {
		return nil, err
	}
	finals := device.Alloc[float32](pop * total)
	prevs := device.Alloc[float32](pop * total)
	status := device.Alloc[int32](pop * nEx * 2)

	k := &populationKernel{
		kernel:   r.Kernel.orDefault(),
		maxSteps: maxSteps,
		params:   params.Device(),
		seeds:    seedBuf.Device(),
		offsets:  offsets,
		widths:   widths,
		heights:  heights,
		total:    total,
		examples: nEx,
		finals:   finals.Device(),
		prevs:    prevs.Device(),
		status:   status.Device(),
	}
	cfg := device.LaunchConfig{
		Grid:      device.Dim3{X: nEx, Y: pop},
		Block:     device.Dim3{X: maxCells},
		SharedMem: maxCells * substrate.InpChs,
	}
	if err := slot.Stream.Launch(k, cfg); err != nil {
		return nil, err
	}

	hostFinals := make([]float32, pop*total)
	if err := finals.CopyToHost(hostFinals); err != nil {
		return nil, err
	}
	hostPrevs := make([]float32, pop*total)
	if err := prevs.CopyToHost(hostPrevs); err != nil {
		return nil, err
	}
	hostStatus := make([]int32, pop*nEx*2)
	if err := status.CopyToHost(hostStatus); err != nil {
		return nil, err
	}

	out := make([][]Outcome, pop)
	for p := range out {
		out[p] = make([]Outcome, nEx)
		for e, s := range seeds {
			base := p*total + offsets[e]
			n := len(s.Data)
			final := substrate.Substrate{Data: hostFinals[base : base+n : base+n], Width: s.Width, Height: s.Height}
			prev := substrate.Substrate{Data: hostPrevs[base : base+n : base+n], Width: s.Width, Height: s.Height}
			st := (p*nEx + e) * 2
			out[p][e] = Outcome{
				Final:       final,
				Reason:      Termination{Kind: TerminationKind(hostStatus[st]), Steps: int(hostStatus[st+1])},
				Oscillation: final.MeanSquaredDiff(prev),
			}
		}
	}
	return out, nil
}

// populationKernel runs block (example, individual). Each thread owns one
// cell; the whole substrate sits in shared memory for the duration.
type populationKernel struct {
	kernel   Kernel
	maxSteps int
	params   []float32
	seeds    []float32
	offsets  []int
	widths   []int
	heights  []int
	total    int
	examples int
	finals   []float32
	prevs    []float32
	status   []int32
}

func (k *populationKernel) Name() string { return "nca_population" }

func (k *populationKernel) Run(b *device.Block) error {
	const chs = substrate.InpChs
	ex, ind := b.Idx.X, b.Idx.Y
	w, h := k.widths[ex], k.heights[ex]
	cells := w * h
	n := cells * chs

	field := b.Shared[:n]
	seed := k.seeds[k.offsets[ex] : k.offsets[ex]+n]
	base := ind*k.total + k.offsets[ex]
	final := k.finals[base : base+n]
	prev := k.prevs[base : base+n]
	params := k.params[ind*substrate.NParams : (ind+1)*substrate.NParams]
	weights, biases := params[:substrate.NWeights], params[substrate.NWeights:]

	threads := b.Dim.Size()
	outs := make([][substrate.OutChs]float32, threads)
	deltas := make([]float32, threads)

	b.Threads(func(tid int) {
		if tid >= cells {
			return
		}
		copy(field[tid*chs:(tid+1)*chs], seed[tid*chs:(tid+1)*chs])
		copy(prev[tid*chs:(tid+1)*chs], seed[tid*chs:(tid+1)*chs])
	})

	steps := 0
	kind := MaxSteps
	for steps < k.maxSteps {
		b.Threads(func(tid int) {
			if tid >= cells {
				return
			}
			k.kernel.cellOutputs(weights, biases, field, w, h, tid%w, tid/w, &outs[tid])
		})
		b.Threads(func(tid int) {
			deltas[tid] = 0
			if tid >= cells {
				return
			}
			cell := field[tid*chs : (tid+1)*chs]
			copy(prev[tid*chs:(tid+1)*chs], cell)
			deltas[tid] = commitCell(cell, &outs[tid])
		})
		steps++
		if b.ReduceMax(deltas[:cells]) < k.kernel.Convergence {
			kind = Convergence
			break
		}
	}

	b.Threads(func(tid int) {
		if tid >= cells {
			return
		}
		copy(final[tid*chs:(tid+1)*chs], field[tid*chs:(tid+1)*chs])
	})
	st := (ind*k.examples + ex) * 2
	k.status[st] = int32(kind)
	k.status[st+1] = int32(steps)
	return nil
}

// GPUExecutor runs a single rule as a one-block population on the device.
// It does not implement Stepper: a run always covers the whole step budget.
type GPUExecutor struct {
	runner *DeviceRunner
	worker int
	rule   Rule
	seed   substrate.Substrate
	out    Outcome
	done   bool
}

func NewGPUExecutor(runner *DeviceRunner, worker int, rule Rule, seed substrate.Substrate) (*GPUExecutor, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if seed.Cells() > substrate.MaxDeviceCells {
		return nil, fmt.Errorf("%w: %d cells, limit %d", ErrGridTooLarge, seed.Cells(), substrate.MaxDeviceCells)
	}
	return &GPUExecutor{runner: runner, worker: worker, rule: rule, seed: seed.Clone()}, nil
}

func (e *GPUExecutor) Rule() Rule                { return e.rule }
func (e *GPUExecutor) Seed() substrate.Substrate { return e.seed }

func (e *GPUExecutor) Substrate() substrate.Substrate {
	if !e.done {
		return e.seed
	}
	return e.out.Final
}

func (e *GPUExecutor) Reason() Termination {
	if !e.done {
		return Termination{Kind: Running}
	}
	return e.out.Reason
}

func (e *GPUExecutor) Oscillation() float64 {
	if !e.done {
		return 0
	}
	return e.out.Oscillation
}

func (e *GPUExecutor) Run(ctx context.Context) (Termination, error) {
	if e.done {
		return e.out.Reason, nil
	}
	outs, err := e.runner.RunBatch(ctx, e.worker, []Rule{e.rule}, []substrate.Substrate{e.seed})
	if err != nil {
		return Termination{}, err
	}
	e.out = outs[0][0]
	e.done = true
	return e.out.Reason, nil
}
