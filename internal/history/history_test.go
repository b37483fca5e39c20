package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/matcher/internal/metrics"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "exps", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadEpochs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	runID := uuid.NewString()
	require.NoError(t, s.StartRun(ctx, Run{ID: runID, ModelName: "convnet", Phase: 1, StartedAt: time.Now()}))

	require.NoError(t, s.RecordEpoch(ctx, runID, metrics.EpochResult{
		Epoch: 2, TrainLoss: 0.5,
		Eval:    metrics.EvalResult{Correct: 3, Total: 4, LossSum: 0.8, Batches: 2},
		Elapsed: 1500 * time.Millisecond,
	}))
	require.NoError(t, s.RecordEpoch(ctx, runID, metrics.EpochResult{
		Epoch: 1, TrainLoss: 0.9,
		Eval: metrics.EvalResult{Correct: 1, Total: 4, LossSum: 1.0, Batches: 1},
		Best: true,
	}))

	epochs, err := s.Epochs(ctx, runID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)

	assert.Equal(t, 1, epochs[0].Epoch)
	assert.True(t, epochs[0].Best)
	assert.InDelta(t, 25.0, epochs[0].Accuracy, 1e-9)

	assert.Equal(t, 2, epochs[1].Epoch)
	assert.InDelta(t, 0.4, epochs[1].ValLoss, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, epochs[1].Elapsed)
}

func TestDuplicateEpochRejected(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.StartRun(ctx, Run{ID: "r", ModelName: "m", Phase: 2, StartedAt: time.Now()}))

	r := metrics.EpochResult{Epoch: 1}
	require.NoError(t, s.RecordEpoch(ctx, "r", r))
	assert.Error(t, s.RecordEpoch(ctx, "r", r))
}

func TestBestAccuracy(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.BestAccuracy(ctx, "convnet", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	for i, correct := range []int{3, 9, 5} {
		id := uuid.NewString()
		require.NoError(t, s.StartRun(ctx, Run{ID: id, ModelName: "convnet", Phase: 1, StartedAt: time.Now()}))
		require.NoError(t, s.RecordEpoch(ctx, id, metrics.EpochResult{Epoch: i + 1, Eval: metrics.EvalResult{Correct: correct, Total: 10}}))
	}

	best, ok, err := s.BestAccuracy(ctx, "convnet", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 90.0, best, 1e-9)
}

func TestLatestRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartRun(ctx, Run{ID: "older", ModelName: "convnet", Phase: 1, StartedAt: start}))
	require.NoError(t, s.StartRun(ctx, Run{ID: "newer", ModelName: "convnet", Phase: 2, Config: "phase: 2\n", StartedAt: start.Add(time.Hour)}))

	r, ok, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", r.ID)
	assert.Equal(t, 2, r.Phase)
	assert.Equal(t, "phase: 2\n", r.Config)
	assert.True(t, r.StartedAt.Equal(start.Add(time.Hour)))
}

func TestEpochResultKeepsStoredMetrics(t *testing.T) {
	e := Epoch{Epoch: 3, TrainLoss: 0.7, ValLoss: 0.45, Correct: 9, Total: 12, Elapsed: 2 * time.Second, Best: true}
	r := e.Result()

	assert.Equal(t, 3, r.Epoch)
	assert.InDelta(t, 75.0, r.Eval.Accuracy(), 1e-9)
	assert.InDelta(t, 0.45, r.Eval.MeanLoss(), 1e-9)
	assert.True(t, r.Best)
}
