package device

import "fmt"

// Buffer is device memory holding n elements of T.
type Buffer[T any] struct {
	data []T
}

func Alloc[T any](n int) *Buffer[T] {
	return &Buffer[T]{data: make([]T, n)}
}

func (b *Buffer[T]) Len() int { return len(b.data) }

// Device returns the device-side view handed to kernels.
func (b *Buffer[T]) Device() []T { return b.data }

func (b *Buffer[T]) CopyFromHost(src []T) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("copy to device: host has %d elements, buffer %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *Buffer[T]) CopyToHost(dst []T) error {
	if len(dst) != len(b.data) {
		return fmt.Errorf("copy to host: host has %d elements, buffer %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}
