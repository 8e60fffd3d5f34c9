// Package sysload samples host CPU and memory to gate new work. It backs
// both hard admission control on create and the cooperative backpressure
// loop used by index-time sparse encoding.
package sysload

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

const bytesPerMB = 1024 * 1024

// Usage is a point-in-time host load sample.
type Usage struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	AvailableMemory uint64  `json:"available_memory_bytes"`
}

// AvailableMB returns available memory in megabytes.
func (u Usage) AvailableMB() uint64 {
	return u.AvailableMemory / bytesPerMB
}

// Thresholds bound acceptable load. Zero fields are not checked.
type Thresholds struct {
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	MinAvailableMB   uint64
}

// Exceeded reports which threshold u violates, or "" if none.
func (t Thresholds) Exceeded(u Usage) string {
	if t.MaxCPUPercent > 0 && u.CPUPercent > t.MaxCPUPercent {
		return fmt.Sprintf("cpu %.1f%% > %.1f%%", u.CPUPercent, t.MaxCPUPercent)
	}
	if t.MaxMemoryPercent > 0 && u.MemoryPercent > t.MaxMemoryPercent {
		return fmt.Sprintf("memory %.1f%% > %.1f%%", u.MemoryPercent, t.MaxMemoryPercent)
	}
	if t.MinAvailableMB > 0 && u.AvailableMB() < t.MinAvailableMB {
		return fmt.Sprintf("available memory %dMB < %dMB", u.AvailableMB(), t.MinAvailableMB)
	}
	return ""
}

// Sampler produces host load samples.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// HostSampler reads load from the local host via gopsutil.
type HostSampler struct {
	// CPUWindow is how long CPU utilisation is measured over.
	CPUWindow time.Duration
}

func NewHostSampler() *HostSampler {
	return &HostSampler{CPUWindow: 200 * time.Millisecond}
}

func (s *HostSampler) Sample(ctx context.Context) (Usage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read memory stats: %w", err)
	}
	percents, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	return Usage{
		CPUPercent:      cpuPercent,
		MemoryPercent:   vm.UsedPercent,
		AvailableMemory: vm.Available,
	}, nil
}

// Admission rejects new work outright when the host is saturated.
type Admission struct {
	sampler    Sampler
	thresholds Thresholds
	logger     logrus.FieldLogger
}

func NewAdmission(sampler Sampler, thresholds Thresholds, logger logrus.FieldLogger) *Admission {
	return &Admission{sampler: sampler, thresholds: thresholds, logger: logger}
}

// Admit returns domain.ErrServerOverloaded when any threshold is exceeded.
// A failed sample admits the request; the check is advisory.
func (a *Admission) Admit(ctx context.Context) error {
	usage, err := a.sampler.Sample(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("admission: host sample failed, admitting request")
		return nil
	}
	if reason := a.thresholds.Exceeded(usage); reason != "" {
		a.logger.WithField("reason", reason).Warn("admission: rejecting request")
		return domain.ErrServerOverloaded.WithCause(fmt.Errorf("%s", reason))
	}
	return nil
}

// Gate blocks callers while the host is above its thresholds.
type Gate struct {
	sampler    Sampler
	thresholds Thresholds
	poll       time.Duration
	logger     logrus.FieldLogger
}

func NewGate(sampler Sampler, thresholds Thresholds, poll time.Duration, logger logrus.FieldLogger) *Gate {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Gate{sampler: sampler, thresholds: thresholds, poll: poll, logger: logger}
}

// Wait returns once the host is below every threshold or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		usage, err := g.sampler.Sample(ctx)
		if err != nil {
			g.logger.WithError(err).Warn("backpressure: host sample failed, proceeding")
			return nil
		}
		reason := g.thresholds.Exceeded(usage)
		if reason == "" {
			return nil
		}
		g.logger.WithFields(logrus.Fields{
			"reason": reason,
			"wait":   g.poll.String(),
		}).Info("backpressure: host saturated, waiting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.poll):
		}
	}
}
