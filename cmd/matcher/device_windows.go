//go:build windows

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/born-ml/born/backend/webgpu"

	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/trainer"
)

func gpuAvailable() bool {
	return webgpu.IsAvailable()
}

func trainGPU(ctx context.Context, cfg config.Config, out io.Writer) (*trainer.Result, error) {
	gpu, err := webgpu.New()
	if err != nil {
		return nil, fmt.Errorf("init webgpu: %w", err)
	}
	defer gpu.Release()

	slog.Info("using gpu backend", "backend", gpu.Name())
	return trainer.Run(ctx, cfg, gpu, out)
}
