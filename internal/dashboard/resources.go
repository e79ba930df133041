package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"wattson/logger"
)

const (
	samplerHistory  = 120
	samplerInterval = 5 * time.Second
)

// resourceSnapshot is one sample of host utilisation. Disk usage is taken
// on the filesystem holding the ledger store so a full volume shows up
// before writes start failing.
type resourceSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryPct  float64   `json:"memory_percent"`
	DiskUsed   uint64    `json:"disk_used"`
	DiskTotal  uint64    `json:"disk_total"`
	DiskPct    float64   `json:"disk_percent"`
}

type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

func newResourceSampler(diskPath string, log *logger.Log) *resourceSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{diskPath: diskPath, log: log}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resourceSnapshot, len(s.items))
	copy(out, s.items)
	return out
}

func (s *resourceSampler) append(snap resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snap)
	if len(s.items) > samplerHistory {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-samplerHistory:]...)
	}
}

func (s *resourceSampler) run(ctx context.Context) {
	defer s.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// cpu.PercentWithContext blocks for the sample interval, which
		// also paces the loop.
		cpuSamples, err := cpu.PercentWithContext(ctx, samplerInterval, false)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample cpu usage")
			continue
		}

		memStats, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample memory usage")
			continue
		}

		diskStats, err := disk.UsageWithContext(ctx, s.diskPath)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample disk usage")
			continue
		}

		cpuPct := 0.0
		if len(cpuSamples) > 0 {
			cpuPct = cpuSamples[0]
		}

		s.append(resourceSnapshot{
			Timestamp:  time.Now(),
			CPUPercent: cpuPct,
			MemoryPct:  memStats.UsedPercent,
			DiskUsed:   diskStats.Used,
			DiskTotal:  diskStats.Total,
			DiskPct:    diskStats.UsedPercent,
		})
	}
}
