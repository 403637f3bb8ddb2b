package nca

import (
	"errors"
	"fmt"
	"strings"

	"enca/internal/device"
	"enca/internal/substrate"
)

type Backend string

const (
	CPU Backend = "CPU"
	GPU Backend = "GPU"
)

func ParseBackend(s string) (Backend, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CPU":
		return CPU, nil
	case "GPU":
		return GPU, nil
	default:
		return "", fmt.Errorf("unsupported backend: %s", s)
	}
}

// Engine selects the executor implementation for a backend.
type Engine struct {
	Backend Backend
	Kernel  Kernel
	Pool    *device.Pool
}

func NewEngine(backend Backend, kernel Kernel, pool *device.Pool) (Engine, error) {
	switch backend {
	case CPU:
	case GPU:
		if pool == nil {
			return Engine{}, errors.New("gpu backend requires a device pool")
		}
	default:
		return Engine{}, fmt.Errorf("unsupported backend: %s", backend)
	}
	return Engine{Backend: backend, Kernel: kernel.orDefault(), Pool: pool}, nil
}

func (e Engine) NewExecutor(rule Rule, seed substrate.Substrate, worker int) (Executor, error) {
	if e.Backend == GPU {
		return NewGPUExecutor(&DeviceRunner{Pool: e.Pool, Kernel: e.Kernel}, worker, rule, seed)
	}
	return NewCPUExecutor(rule, seed, e.Kernel)
}

func (e Engine) Runner() BatchRunner {
	if e.Backend == GPU {
		return &DeviceRunner{Pool: e.Pool, Kernel: e.Kernel}
	}
	return CPURunner{Kernel: e.Kernel}
}
