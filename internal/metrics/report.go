package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"formulaflow/logger"
)

// ResourceSample is one reading of host and process resources.
type ResourceSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpuPercent"`
	MemoryUsedMB      int64     `json:"memoryUsedMb"`
	MemoryUsedPercent float64   `json:"memoryUsedPercent"`
	DiskUsedMB        int64     `json:"diskUsedMb"`
	NetBytesSent      int64     `json:"netBytesSent"`
	NetBytesRecv      int64     `json:"netBytesRecv"`
	Goroutines        int       `json:"goroutines"`
}

// SampleResources reads the current resource usage. Probes that fail leave
// their fields at zero.
func SampleResources() ResourceSample {
	sample := ResourceSample{
		Timestamp:  timeNow().UTC(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sample.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		sample.MemoryUsedMB = int64(vm.Used) / 1024 / 1024
		sample.MemoryUsedPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil && du != nil {
		sample.DiskUsedMB = int64(du.Used) / 1024 / 1024
	}
	if io, err := gnet.IOCounters(false); err == nil && len(io) > 0 {
		sample.NetBytesSent = int64(io[0].BytesSent)
		sample.NetBytesRecv = int64(io[0].BytesRecv)
	}

	return sample
}

// StartReport logs resource usage and per-family warning/error counts every
// interval until ctx is done.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, SampleResources())
			}
		}
	}()
}

func logReport(log *logger.Log, sample ResourceSample) {
	fields := logger.Fields{
		"goroutines":          sample.Goroutines,
		"cpu_percent":         sample.CPUPercent,
		"memory_mb":           sample.MemoryUsedMB,
		"memory_used_percent": sample.MemoryUsedPercent,
		"disk_mb":             sample.DiskUsedMB,
		"net_bytes_sent":      sample.NetBytesSent,
		"net_bytes_recv":      sample.NetBytesRecv,
	}
	for family, c := range logger.Counters() {
		fields["warns_"+family] = c.Warns
		fields["errors_"+family] = c.Errors
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	EmitMetric(log, "resources", "cpu_percent", sample.CPUPercent, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, "resources", "memory_used_percent", sample.MemoryUsedPercent, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, "resources", "goroutines", sample.Goroutines, "gauge", logger.Fields{"unit": "count"})
}
