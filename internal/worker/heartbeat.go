package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/bosun"
	"github.com/t77yq/scalewatch/internal/metrics"
)

// Heartbeat periodically emits a liveness beacon plus host resource usage
// to Bosun while the worker runs. Lambda mode has no equivalent; the
// platform's own invocation metrics cover it there.
type Heartbeat struct {
	logger   *zap.Logger
	bosun    bosun.Bosun
	schedule string
	cron     *cron.Cron
}

// NewHeartbeat creates a heartbeat with a cron schedule such as
// "@every 1m".
func NewHeartbeat(b bosun.Bosun, schedule string, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		logger:   logger.Named("heartbeat"),
		bosun:    b,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start schedules the beat.
func (h *Heartbeat) Start() error {
	if _, err := h.cron.AddFunc(h.schedule, h.beat); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", h.schedule, err)
	}
	h.cron.Start()

	h.logger.Info("Heartbeat started", zap.String("schedule", h.schedule))
	return nil
}

// Stop cancels the schedule and waits for a running beat to finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
	h.logger.Info("Heartbeat stopped")
}

func (h *Heartbeat) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	h.emit(ctx, bosun.NewDatum(metrics.WorkerHeartbeat, "1", nil))

	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil || len(cpuPercent) == 0 {
		h.logger.Warn("Failed to sample CPU usage", zap.Error(err))
	} else {
		h.emit(ctx, bosun.NewDatum(metrics.WorkerCPUPercent,
			strconv.FormatFloat(cpuPercent[0], 'f', 2, 64), nil))
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		h.logger.Warn("Failed to sample memory usage", zap.Error(err))
	} else {
		h.emit(ctx, bosun.NewDatum(metrics.WorkerMemPercent,
			strconv.FormatFloat(memInfo.UsedPercent, 'f', 2, 64), nil))
	}
}

func (h *Heartbeat) emit(ctx context.Context, datum *bosun.Datum) {
	if err := h.bosun.EmitDatum(ctx, datum); err != nil {
		h.logger.Warn("Failed to emit heartbeat datum",
			zap.String("metric", datum.Metric),
			zap.Error(err))
	}
}
