package device

import (
	"errors"
	"fmt"
)

const (
	DefaultMaxThreadsPerBlock = 1024
	// DefaultMaxSharedFloats is 48 KiB of shared memory counted in float32 words.
	DefaultMaxSharedFloats = 48 * 1024 / 4
)

var ErrInvalidLaunch = errors.New("invalid launch configuration")

type Dim3 struct {
	X, Y, Z int
}

func (d Dim3) Size() int {
	return max(d.X, 1) * max(d.Y, 1) * max(d.Z, 1)
}

func (d Dim3) normalized() Dim3 {
	return Dim3{X: max(d.X, 1), Y: max(d.Y, 1), Z: max(d.Z, 1)}
}

// LaunchConfig describes one kernel launch. SharedMem is counted in float32
// words per block.
type LaunchConfig struct {
	Grid      Dim3
	Block     Dim3
	SharedMem int
}

func (c LaunchConfig) validate(d *Device) error {
	if c.Grid.X <= 0 || c.Grid.Y < 0 || c.Grid.Z < 0 {
		return fmt.Errorf("%w: grid %+v", ErrInvalidLaunch, c.Grid)
	}
	if c.Block.X <= 0 || c.Block.Y < 0 || c.Block.Z < 0 {
		return fmt.Errorf("%w: block %+v", ErrInvalidLaunch, c.Block)
	}
	if c.Block.Size() > d.MaxThreadsPerBlock {
		return fmt.Errorf("%w: %d threads per block exceeds %d", ErrInvalidLaunch, c.Block.Size(), d.MaxThreadsPerBlock)
	}
	if c.SharedMem < 0 || c.SharedMem > d.MaxSharedFloats {
		return fmt.Errorf("%w: shared memory %d words exceeds %d", ErrInvalidLaunch, c.SharedMem, d.MaxSharedFloats)
	}
	return nil
}

// Kernel is device code executed once per block.
type Kernel interface {
	Name() string
	Run(b *Block) error
}

// Block is the execution context of one thread block. Code in Run outside of
// Threads is block-uniform.
type Block struct {
	Idx    Dim3
	Dim    Dim3
	Grid   Dim3
	Shared []float32
}

// Threads runs fn for every thread of the block in thread-id order. Each call
// is one barrier-delimited phase: no thread observes writes of a later phase,
// and all writes of the phase are visible once Threads returns.
func (b *Block) Threads(fn func(tid int)) {
	n := b.Dim.Size()
	for tid := 0; tid < n; tid++ {
		fn(tid)
	}
}

// ReduceMax returns the maximum of v. It stands for a block-wide reduction.
func (b *Block) ReduceMax(v []float32) float32 {
	var m float32
	for i, x := range v {
		if i == 0 || x > m {
			m = x
		}
	}
	return m
}
