package metrics

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLossesMean(t *testing.T) {
	var l Losses
	assert.Zero(t, l.Mean())

	for _, v := range []float64{1.5, 0.5, 1.0, 3.0} {
		l.Add(v)
	}
	assert.Equal(t, 4, l.Len())
	assert.InDelta(t, 1.5, l.Mean(), 1e-12)
}

func TestEvalResultAccuracy(t *testing.T) {
	var e EvalResult
	assert.Zero(t, e.Accuracy())

	// Three classes, two samples: first predicted 2 (correct), second 0 (wrong).
	e.AddBatch([]float32{0.1, 0.2, 0.9, 2.0, 1.0, 0.0}, 3, []int32{2, 1}, 0.8)
	// One sample predicted 1 (correct).
	e.AddBatch([]float32{-1, 5, 3}, 3, []int32{1}, 0.4)

	assert.Equal(t, 2, e.Correct)
	assert.Equal(t, 3, e.Total)
	assert.Equal(t, 2, e.Batches)
	assert.InDelta(t, 200.0/3.0, e.Accuracy(), 1e-9)
	assert.InDelta(t, 0.6, e.MeanLoss(), 1e-12)
}

func TestEvalResultBounds(t *testing.T) {
	var e EvalResult
	for i := 0; i < 7; i++ {
		e.AddBatch([]float32{1, 0, 0, 1}, 2, []int32{0, 0}, 1)
		assert.LessOrEqual(t, e.Correct, e.Total)
		assert.GreaterOrEqual(t, e.Accuracy(), 0.0)
		assert.LessOrEqual(t, e.Accuracy(), 100.0)
	}
	assert.InDelta(t, 50.0, e.Accuracy(), 1e-9)
}

func TestArgmaxTiesPickFirst(t *testing.T) {
	assert.Equal(t, 0, argmax([]float32{1, 1, 1}))
	assert.Equal(t, 2, argmax([]float32{-3, -2, -1}))
}

func TestReporterFormats(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.Batch(3, 160, 1000, 0.25)
	r.Epoch(3, 1500*time.Millisecond, 0.5)
	r.Eval(EvalResult{Correct: 7, Total: 8, LossSum: 1.2, Batches: 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Train Epoch: 3 [160/1000 (16%)] \tBatch Loss: (0.250000)",
		"Train Epoch: 3\t time:1.500s \tMeanLoss: (0.500000)",
		"Test accuracy: (7)/8 (87.500%), Loss: (0.600000)",
	}, lines)
}

func TestThroughputFlush(t *testing.T) {
	var tp Throughput
	tp.Add(16, 100*time.Millisecond, 300*time.Millisecond)
	tp.Add(4, 50*time.Millisecond, 50*time.Millisecond)

	r := tp.Flush()
	assert.Equal(t, 2, r.Batches)
	assert.InDelta(t, 40.0, r.ImagesPerSec, 1e-9)
	assert.InDelta(t, 75.0, r.LoadMS, 1e-9)
	assert.InDelta(t, 175.0, r.StepMS, 1e-9)

	assert.Equal(t, Rates{}, tp.Flush(), "flush starts a new window")
}

func TestRatesLogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("throughput", "rates", Rates{Batches: 3, ImagesPerSec: 12.5, LoadMS: 2, StepMS: 8})

	out := buf.String()
	assert.Contains(t, out, "rates.batches=3")
	assert.Contains(t, out, "rates.images_per_sec=12.5")
	assert.Contains(t, out, "rates.step_ms=8")
}

func TestSummaryTable(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, []EpochResult{
		{Epoch: 1, TrainLoss: 1.1, Eval: EvalResult{Correct: 7, Total: 10, LossSum: 0.9, Batches: 1}, Best: true},
		{Epoch: 2, TrainLoss: 0.9, Eval: EvalResult{Correct: 6, Total: 10, LossSum: 1.0, Batches: 1}},
	})
	out := buf.String()
	assert.Contains(t, out, "ACCURACY")
	assert.Contains(t, out, "70.000%")
	assert.Contains(t, out, "60.000%")
	assert.Contains(t, out, "1.100000")
}
