package device

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"enca/internal/logging"
)

type PoolConfig struct {
	Devices          int
	ThreadsPerDevice int
	Multiprocessors  int
	Logger           logrus.FieldLogger
}

// Slot pairs a device with a dedicated stream.
type Slot struct {
	Index  int
	Device *Device
	Stream *Stream
}

// Pool holds Devices × ThreadsPerDevice slots. It is built lazily exactly
// once and read-only afterwards.
type Pool struct {
	cfg   PoolConfig
	once  sync.Once
	slots []*Slot
	err   error
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Devices <= 0 {
		cfg.Devices = 1
	}
	if cfg.ThreadsPerDevice <= 0 {
		cfg.ThreadsPerDevice = 1
	}
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	return &Pool{cfg: cfg}
}

// Init is idempotent; repeated calls return the first result.
func (p *Pool) Init() error {
	p.once.Do(func() {
		p.slots, p.err = p.build()
	})
	return p.err
}

func (p *Pool) build() ([]*Slot, error) {
	slots := make([]*Slot, 0, p.cfg.Devices*p.cfg.ThreadsPerDevice)
	for d := 0; d < p.cfg.Devices; d++ {
		dev := NewDevice(d, p.cfg.Multiprocessors)
		for t := 0; t < p.cfg.ThreadsPerDevice; t++ {
			slots = append(slots, &Slot{Index: len(slots), Device: dev, Stream: dev.NewStream()})
		}
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("device pool has no slots")
	}
	p.cfg.Logger.WithFields(logrus.Fields{
		"devices":            p.cfg.Devices,
		"threads_per_device": p.cfg.ThreadsPerDevice,
	}).Info("device pool initialized")
	return slots, nil
}

func (p *Pool) Size() int {
	if err := p.Init(); err != nil {
		return 0
	}
	return len(p.slots)
}

// Slot returns the slot assigned to worker: worker modulo pool size.
func (p *Pool) Slot(worker int) (*Slot, error) {
	if err := p.Init(); err != nil {
		return nil, err
	}
	if worker < 0 {
		worker = -worker
	}
	return p.slots[worker%len(p.slots)], nil
}
