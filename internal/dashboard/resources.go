package dashboard

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"livetape/logger"
)

// resourceSnapshot is one sample of host and process utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	Goroutines  int       `json:"goroutines"`
	HeapAlloc   uint64    `json:"heap_alloc"`
}

// host readers, replaced in tests
var (
	sampleCPU = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, window, false)
	}
	sampleMemory = mem.VirtualMemoryWithContext
)

// resourceSampler records a snapshot per interval while started. The
// CPU read measures over the whole interval, so samples run back to back.
type resourceSampler struct {
	*ring[resourceSnapshot]
	interval time.Duration
	log      *logger.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newResourceSampler(limit int, interval time.Duration, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{
		ring:     newRing[resourceSnapshot](limit),
		interval: interval,
		log:      log.WithComponent("resource_sampler"),
	}
}

// start is a no-op while a previous start is still running.
func (s *resourceSampler) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.run(ctx)
	}(s.done)
}

func (s *resourceSampler) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *resourceSampler) run(ctx context.Context) {
	for ctx.Err() == nil {
		snap, err := s.sample(ctx)
		if err != nil {
			s.log.WithError(err).Debug("resource sample failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			continue
		}
		s.push(snap)
	}
}

func (s *resourceSampler) sample(ctx context.Context) (resourceSnapshot, error) {
	busy, err := sampleCPU(ctx, s.interval)
	if err != nil {
		return resourceSnapshot{}, err
	}
	vm, err := sampleMemory(ctx)
	if err != nil {
		return resourceSnapshot{}, err
	}
	var heap runtime.MemStats
	runtime.ReadMemStats(&heap)

	snap := resourceSnapshot{
		Timestamp:   time.Now(),
		MemoryUsed:  vm.Used,
		MemoryTotal: vm.Total,
		MemoryPct:   vm.UsedPercent,
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   heap.HeapAlloc,
	}
	if len(busy) > 0 {
		snap.CPUPercent = busy[0]
	}
	return snap, nil
}
