package metrics

import (
	"log/slog"
	"time"
)

// Throughput accumulates batch timings between two progress lines.
type Throughput struct {
	images  int
	batches int
	load    time.Duration
	step    time.Duration
}

// Add records one batch of images that took load to assemble and step to
// train on.
func (t *Throughput) Add(images int, load, step time.Duration) {
	t.images += images
	t.batches++
	t.load += load
	t.step += step
}

// Flush returns the rates since the previous Flush and starts over.
func (t *Throughput) Flush() Rates {
	var r Rates
	r.Batches = t.batches
	if busy := t.load + t.step; busy > 0 {
		r.ImagesPerSec = float64(t.images) / busy.Seconds()
	}
	if t.batches > 0 {
		r.LoadMS = float64(t.load.Milliseconds()) / float64(t.batches)
		r.StepMS = float64(t.step.Milliseconds()) / float64(t.batches)
	}
	*t = Throughput{}
	return r
}

// Rates is a flushed Throughput.
type Rates struct {
	Batches      int
	ImagesPerSec float64
	LoadMS       float64 // mean per batch
	StepMS       float64 // mean per batch
}

// LogValue renders r as a slog group.
func (r Rates) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("batches", r.Batches),
		slog.Float64("images_per_sec", r.ImagesPerSec),
		slog.Float64("load_ms", r.LoadMS),
		slog.Float64("step_ms", r.StepMS),
	)
}
