package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/born-ml/born/backend/cpu"
	"github.com/klauspost/cpuid/v2"

	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/trainer"
)

var errNoGPU = errors.New("device gpu requested but no WebGPU adapter is available")

// train picks the compute backend for cfg.Device and runs the phase on it.
func train(ctx context.Context, cfg config.Config, out io.Writer) (*trainer.Result, error) {
	switch cfg.Device {
	case config.DeviceGPU:
		if !gpuAvailable() {
			return nil, errNoGPU
		}
		return trainGPU(ctx, cfg, out)
	case config.DeviceAuto:
		if gpuAvailable() {
			return trainGPU(ctx, cfg, out)
		}
		slog.Info("no gpu adapter found, falling back to cpu")
	}
	return trainCPU(ctx, cfg, out)
}

func trainCPU(ctx context.Context, cfg config.Config, out io.Writer) (*trainer.Result, error) {
	slog.Info("using cpu backend",
		"cpu", cpuid.CPU.BrandName,
		"physical_cores", cpuid.CPU.PhysicalCores,
		"logical_cores", cpuid.CPU.LogicalCores,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2))
	return trainer.Run(ctx, cfg, cpu.New(), out)
}
