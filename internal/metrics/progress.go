// Package metrics formats training progress and accumulates per-epoch
// statistics.
package metrics

import (
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Reporter writes the line-oriented console progress of a run.
type Reporter struct {
	w io.Writer
}

// NewReporter returns a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Batch reports one training batch. seen is the number of samples before
// this batch, total the size of the split.
func (r *Reporter) Batch(epoch, seen, total int, loss float64) {
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(seen) / float64(total)
	}
	fmt.Fprintf(r.w, "Train Epoch: %d [%d/%d (%.0f%%)] \tBatch Loss: (%.6f)\n", epoch, seen, total, pct, loss)
}

// Epoch reports the end of a training epoch.
func (r *Reporter) Epoch(epoch int, elapsed time.Duration, meanLoss float64) {
	fmt.Fprintf(r.w, "Train Epoch: %d\t time:%.3fs \tMeanLoss: (%.6f)\n", epoch, elapsed.Seconds(), meanLoss)
}

// Eval reports an evaluation pass.
func (r *Reporter) Eval(e EvalResult) {
	fmt.Fprintf(r.w, "Test accuracy: (%d)/%d (%.3f%%), Loss: (%.6f)\n", e.Correct, e.Total, e.Accuracy(), e.MeanLoss())
}

// Losses collects per-batch losses of one epoch.
type Losses struct {
	values []float64
}

// Add records one batch loss.
func (l *Losses) Add(loss float64) {
	l.values = append(l.values, loss)
}

// Len returns the number of recorded batches.
func (l *Losses) Len() int {
	return len(l.values)
}

// Mean returns the arithmetic mean of the recorded losses, 0 when empty.
func (l *Losses) Mean() float64 {
	if len(l.values) == 0 {
		return 0
	}
	return stat.Mean(l.values, nil)
}

// EvalResult accumulates an evaluation pass.
type EvalResult struct {
	Correct int
	Total   int
	LossSum float64
	Batches int
}

// AddBatch scores one batch. logits is [n, classes] row-major and targets
// holds n class ids. The prediction is the argmax of the logits, which is
// also the argmax of their softmax.
func (e *EvalResult) AddBatch(logits []float32, classes int, targets []int32, loss float64) {
	for i, target := range targets {
		row := logits[i*classes : (i+1)*classes]
		if argmax(row) == int(target) {
			e.Correct++
		}
	}
	e.Total += len(targets)
	e.LossSum += loss
	e.Batches++
}

// Accuracy returns 100 * Correct / Total, or 0 for an empty pass.
func (e EvalResult) Accuracy() float64 {
	if e.Total == 0 {
		return 0
	}
	return 100 * float64(e.Correct) / float64(e.Total)
}

// MeanLoss returns the mean of the per-batch losses.
func (e EvalResult) MeanLoss() float64 {
	if e.Batches == 0 {
		return 0
	}
	return e.LossSum / float64(e.Batches)
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
