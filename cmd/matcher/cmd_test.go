package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/history"
	"github.com/born-ml/matcher/internal/metrics"
)

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "matcher version "+version)
}

func TestResolveConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phase: 1\nnum_epochs: 3\nbatch_size: 8\nclasses: [masterCategory]\n"), 0o600))
	t.Setenv(config.EnvWorkers, "2")

	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--epochs", "5", "--device", "cpu"}))

	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.Phase1, cfg.Phase)
	assert.Equal(t, 5, cfg.NumEpochs)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 2, cfg.NumWorkers)
	assert.Equal(t, config.DeviceCPU, cfg.Device)
}

func TestResolveConfigFlagsCompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 0\n"), 0o600))

	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--batch-size", "8"}))

	cfg, err := resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.BatchSize)
}

func TestResolveConfigRejectsBadPhase(t *testing.T) {
	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--phase", "3"}))

	_, err := resolveConfig(cmd)
	assert.ErrorContains(t, err, "unknown phase")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryCommandShowsLatestRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.StartRun(ctx, history.Run{ID: "first", ModelName: "convnet", Phase: 1, StartedAt: start}))
	require.NoError(t, store.RecordEpoch(ctx, "first", metrics.EpochResult{Epoch: 1, Eval: metrics.EvalResult{Correct: 9, Total: 10, Batches: 1}}))
	require.NoError(t, store.StartRun(ctx, history.Run{ID: "second", ModelName: "convnet", Phase: 1, StartedAt: start.Add(time.Minute)}))
	require.NoError(t, store.RecordEpoch(ctx, "second", metrics.EpochResult{Epoch: 1, Eval: metrics.EvalResult{Correct: 4, Total: 10, Batches: 1}}))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--exp-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "run second")
	assert.Contains(t, out, "40.000%")
	assert.Contains(t, out, "best convnet phase 1 accuracy across runs: 90.000%")

	out, err = execute(t, "history", "--exp-dir", dir, "first")
	require.NoError(t, err)
	assert.Contains(t, out, "run first")
	assert.Contains(t, out, "90.000%")
}

func TestHistoryCommandEmpty(t *testing.T) {
	_, err := execute(t, "history", "--exp-dir", t.TempDir())
	assert.ErrorContains(t, err, "no runs recorded")
}
