//go:build !windows

package main

import (
	"context"
	"io"

	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/trainer"
)

// The Born WebGPU backend only builds on windows.
func gpuAvailable() bool { return false }

func trainGPU(context.Context, config.Config, io.Writer) (*trainer.Result, error) {
	return nil, errNoGPU
}
