package device

import (
	"errors"
	"sync"
	"testing"
)

type sumKernel struct {
	in  []float32
	out []float32
}

func (k *sumKernel) Name() string { return "sum" }

// Each block sums the row selected by its X index using a shared-memory
// staging phase.
func (k *sumKernel) Run(b *Block) error {
	width := b.Dim.X
	row := k.in[b.Idx.X*width : (b.Idx.X+1)*width]
	b.Threads(func(tid int) {
		b.Shared[tid] = row[tid]
	})
	var total float32
	b.Threads(func(tid int) {
		total += b.Shared[tid]
	})
	k.out[b.Idx.X] = total
	return nil
}

type failingKernel struct{}

func (failingKernel) Name() string       { return "fail" }
func (failingKernel) Run(_ *Block) error { return errors.New("boom") }

func TestStreamLaunchRunsEveryBlock(t *testing.T) {
	dev := NewDevice(0, 2)
	stream := dev.NewStream()

	in := Alloc[float32](12)
	if err := in.CopyFromHost([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}); err != nil {
		t.Fatalf("copy to device: %v", err)
	}
	out := Alloc[float32](3)
	k := &sumKernel{in: in.Device(), out: out.Device()}
	if err := stream.Launch(k, LaunchConfig{Grid: Dim3{X: 3}, Block: Dim3{X: 4}, SharedMem: 4}); err != nil {
		t.Fatalf("launch: %v", err)
	}

	host := make([]float32, 3)
	if err := out.CopyToHost(host); err != nil {
		t.Fatalf("copy to host: %v", err)
	}
	want := []float32{10, 26, 42}
	for i := range want {
		if host[i] != want[i] {
			t.Fatalf("block %d sum=%v want=%v", i, host[i], want[i])
		}
	}
	if stream.Launches() != 1 {
		t.Fatalf("expected one launch, got %d", stream.Launches())
	}
}

func TestLaunchValidatesLimits(t *testing.T) {
	stream := NewDevice(0, 1).NewStream()
	k := &sumKernel{}
	cases := []LaunchConfig{
		{Grid: Dim3{X: 0}, Block: Dim3{X: 1}},
		{Grid: Dim3{X: 1}, Block: Dim3{X: DefaultMaxThreadsPerBlock + 1}},
		{Grid: Dim3{X: 1}, Block: Dim3{X: 1}, SharedMem: DefaultMaxSharedFloats + 1},
	}
	for _, cfg := range cases {
		if err := stream.Launch(k, cfg); !errors.Is(err, ErrInvalidLaunch) {
			t.Fatalf("expected ErrInvalidLaunch for %+v, got %v", cfg, err)
		}
	}
}

func TestLaunchPropagatesKernelError(t *testing.T) {
	stream := NewDevice(0, 1).NewStream()
	if err := stream.Launch(failingKernel{}, LaunchConfig{Grid: Dim3{X: 2}, Block: Dim3{X: 1}}); err == nil {
		t.Fatal("expected kernel error")
	}
	if stream.Launches() != 0 {
		t.Fatalf("failed launch should not be counted, got %d", stream.Launches())
	}
}

func TestBufferCopyLengthMismatch(t *testing.T) {
	buf := Alloc[int32](2)
	if err := buf.CopyFromHost([]int32{1}); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if err := buf.CopyToHost(make([]int32, 3)); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestPoolInitOnceAndRoundRobin(t *testing.T) {
	pool := NewPool(PoolConfig{Devices: 2, ThreadsPerDevice: 2, Multiprocessors: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Init(); err != nil {
				t.Errorf("init: %v", err)
			}
		}()
	}
	wg.Wait()

	if pool.Size() != 4 {
		t.Fatalf("expected 4 slots, got %d", pool.Size())
	}
	first, err := pool.Slot(1)
	if err != nil {
		t.Fatalf("slot: %v", err)
	}
	again, err := pool.Slot(5)
	if err != nil {
		t.Fatalf("slot: %v", err)
	}
	if first != again {
		t.Fatal("expected worker 5 to map to the same slot as worker 1")
	}
	if first.Device.Ordinal != 0 {
		t.Fatalf("slot 1 should live on device 0, got %d", first.Device.Ordinal)
	}
	last, err := pool.Slot(3)
	if err != nil {
		t.Fatalf("slot: %v", err)
	}
	if last.Device.Ordinal != 1 {
		t.Fatalf("slot 3 should live on device 1, got %d", last.Device.Ordinal)
	}
}
