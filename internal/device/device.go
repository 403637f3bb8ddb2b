package device

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Device is one compute device. Multiprocessors bounds how many blocks of a
// launch run concurrently.
type Device struct {
	Ordinal            int
	Multiprocessors    int
	MaxThreadsPerBlock int
	MaxSharedFloats    int
}

func NewDevice(ordinal, multiprocessors int) *Device {
	if multiprocessors <= 0 {
		multiprocessors = runtime.NumCPU()
	}
	return &Device{
		Ordinal:            ordinal,
		Multiprocessors:    multiprocessors,
		MaxThreadsPerBlock: DefaultMaxThreadsPerBlock,
		MaxSharedFloats:    DefaultMaxSharedFloats,
	}
}

func (d *Device) NewStream() *Stream {
	return &Stream{device: d}
}

// Stream serializes launches on one device. Launch blocks until the kernel
// has completed on every block.
type Stream struct {
	device   *Device
	mu       sync.Mutex
	launches atomic.Int64
}

func (s *Stream) Device() *Device { return s.device }

// Launches reports how many kernels completed on this stream.
func (s *Stream) Launches() int64 { return s.launches.Load() }

func (s *Stream) Launch(k Kernel, cfg LaunchConfig) error {
	if k == nil {
		return fmt.Errorf("%w: kernel is required", ErrInvalidLaunch)
	}
	if err := cfg.validate(s.device); err != nil {
		return fmt.Errorf("launch %s: %w", k.Name(), err)
	}
	grid := cfg.Grid.normalized()
	block := cfg.Block.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.device.Multiprocessors)
	for z := 0; z < grid.Z; z++ {
		for y := 0; y < grid.Y; y++ {
			for x := 0; x < grid.X; x++ {
				idx := Dim3{X: x, Y: y, Z: z}
				g.Go(func() error {
					b := &Block{Idx: idx, Dim: block, Grid: grid, Shared: make([]float32, cfg.SharedMem)}
					if err := k.Run(b); err != nil {
						return fmt.Errorf("%s block %d,%d,%d: %w", k.Name(), idx.X, idx.Y, idx.Z, err)
					}
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.launches.Add(1)
	return nil
}
