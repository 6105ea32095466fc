package fleetd

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"

	"github.com/betbot/botdash/internal/domain"
)

// HostStats 主机资源占用百分比
type HostStats struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// HostStatsFunc 主机指标来源，测试中可替换
type HostStatsFunc func(ctx context.Context) (HostStats, error)

// GopsutilHostStats 通过 gopsutil 读取主机指标
func GopsutilHostStats(diskPath string) HostStatsFunc {
	return func(ctx context.Context) (HostStats, error) {
		var hs HostStats
		pcts, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return hs, err
		}
		if len(pcts) > 0 {
			hs.CPU = pcts[0]
		}
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return hs, err
		}
		hs.Memory = vm.UsedPercent
		du, err := disk.UsageWithContext(ctx, diskPath)
		if err != nil {
			return hs, err
		}
		hs.Disk = du.UsedPercent
		return hs, nil
	}
}

// systemMetrics 主机指标 + bot 数量
func (s *Server) systemMetrics(ctx context.Context) (domain.SystemMetrics, error) {
	hs, err := s.hostStats(ctx)
	if err != nil {
		return domain.SystemMetrics{}, err
	}
	total, running, err := s.bots.Counts(ctx)
	if err != nil {
		return domain.SystemMetrics{}, err
	}
	ts := domain.NewTimestamp(s.now())
	return domain.SystemMetrics{
		Timestamp:   &ts,
		CPUUsage:    round2(hs.CPU),
		MemoryUsage: round2(hs.Memory),
		DiskUsage:   round2(hs.Disk),
		ActiveBots:  running,
		TotalBots:   total,
	}, nil
}

// withLiveStats 为 running 的 bot 填充模拟的进程指标与运行时长
// 后端不托管真实进程，cpu/memory 为以 bot id 为种子的抖动值
func withLiveStats(b domain.Bot, now time.Time) domain.Bot {
	if b.Status != domain.BotStatusRunning {
		b.CPUUsage, b.MemoryUsage, b.Uptime = 0, 0, nil
		return b
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.ID))
	base := float64(h.Sum64()%2000) / 100 // 0 ~ 20
	b.CPUUsage = round2(base + rand.Float64()*5)
	b.MemoryUsage = round2(1 + base/2 + rand.Float64())
	if b.LastStarted != nil {
		u := domain.NewUptime(now.Sub(b.LastStarted.Time))
		b.Uptime = &u
	}
	return b
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
