package workers

import (
	"context"
	"line-chat/contract"
	"line-chat/observability"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HeartbeatWorker)(nil)

// HeartbeatWorker periodically logs the server load: process usage,
// connected participants, bus subscribers and the chat counters.
type HeartbeatWorker struct {
	log        *slog.Logger
	registry   contract.IRegistry
	bus        contract.IBus
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewHeartbeatWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	bus contract.IBus,
	monitoring *observability.MonitoringManager,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:        log,
		registry:   registry,
		bus:        bus,
		monitoring: monitoring,
		interval:   interval,
	}
}

// Run returns nil right away when the interval is not positive.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Debug("Heartbeat disabled")
		return nil
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	stats := w.monitoring.GetLatest()
	attrs := []any{
		"participants", w.registry.Len(),
		"subscribers", w.bus.Subscribers(),
		"active_sessions", stats.ActiveSessions,
		"published", stats.MessagesPublished,
		"lagged", stats.LaggedMessages,
	}

	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Debug("Failed to collect self stats", "error", err)
	} else {
		attrs = append(attrs, "rss_bytes", rss, "cpu_percent", cpu)
	}
	w.log.Info("Heartbeat", attrs...)
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
