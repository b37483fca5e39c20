// Package trainer runs the training and evaluation loops of a two-phase
// run on an autodiff-wrapped Born backend.
package trainer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/matcher/internal/dataset"
	"github.com/born-ml/matcher/internal/metrics"
	"github.com/born-ml/matcher/internal/model"
)

// Trainer owns the network, its optimizer and the gradient tape for the
// duration of a run. It is not safe for concurrent use.
type Trainer[X tensor.Backend] struct {
	backend     *autodiff.Backend[X]
	net         *model.TwoPhaseNet[*autodiff.Backend[X]]
	params      []*nn.Parameter[*autodiff.Backend[X]]
	opt         optim.Optimizer
	weightDecay float32
	logEvery    int
	reporter    *metrics.Reporter
}

// Options configures a Trainer.
type Options struct {
	LR          float64
	WeightDecay float64
	LogEvery    int
	Out         io.Writer
}

// New creates a trainer whose Adam optimizer only sees the trainable
// parameters of net's phase.
func New[X tensor.Backend](backend *autodiff.Backend[X], net *model.TwoPhaseNet[*autodiff.Backend[X]], opts Options) *Trainer[X] {
	if opts.LogEvery <= 0 {
		opts.LogEvery = 10
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	params := net.TrainableParameters()
	return &Trainer[X]{
		backend: backend,
		net:     net,
		params:  params,
		opt: optim.NewAdam(params, optim.AdamConfig{
			LR:    float32(opts.LR),
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend),
		weightDecay: float32(opts.WeightDecay),
		logEvery:    opts.LogEvery,
		reporter:    metrics.NewReporter(opts.Out),
	}
}

// TrainEpoch runs one pass over loader and returns the per-batch losses.
// The first error from the loader aborts the epoch.
func (t *Trainer[X]) TrainEpoch(ctx context.Context, epoch int, loader *dataset.Loader[*autodiff.Backend[X]]) (*metrics.Losses, error) {
	start := time.Now()
	tape := t.backend.Tape()
	tape.StartRecording()
	defer tape.Clear()

	losses := &metrics.Losses{}
	var tp metrics.Throughput
	slog.Debug("epoch start", "epoch", epoch, "batches", loader.NumBatches(), "samples", loader.Len())

	loadStart := time.Now()
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, fmt.Errorf("train epoch %d: %w", epoch, err)
		}
		load := time.Since(loadStart)

		stepStart := time.Now()
		loss, err := t.step(batch)
		if err != nil {
			return nil, fmt.Errorf("train epoch %d batch %d: %w", epoch, batch.Index, err)
		}
		losses.Add(loss)
		tp.Add(batch.Size, load, time.Since(stepStart))

		if batch.Index%t.logEvery == 0 {
			t.reporter.Batch(epoch, batch.Index*loader.BatchSize(), loader.Len(), loss)
			slog.Debug("throughput", "epoch", epoch, "batch", batch.Index, "rates", tp.Flush())
		}
		loadStart = time.Now()
	}

	t.reporter.Epoch(epoch, time.Since(start), losses.Mean())
	return losses, nil
}

// step runs zero-grad, forward, loss, backward and the optimizer update
// for one batch and returns the batch loss.
func (t *Trainer[X]) step(batch *dataset.Batch[*autodiff.Backend[X]]) (float64, error) {
	tape := t.backend.Tape()
	tape.Clear()
	t.opt.ZeroGrad()

	logits := t.net.Forward(batch.Images)
	lossRaw := t.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw())
	loss := float64(lossRaw.AsFloat32()[0])

	outputGrad, err := tensor.NewRaw(lossRaw.Shape(), tensor.Float32, t.backend.Device())
	if err != nil {
		return 0, fmt.Errorf("allocate output gradient: %w", err)
	}
	outputGrad.AsFloat32()[0] = 1

	grads := tape.Backward(outputGrad, t.backend)
	applyWeightDecay(t.params, grads, t.weightDecay)
	t.opt.Step(grads)
	tape.Clear()

	return loss, nil
}

// applyWeightDecay adds decay * w to the gradient of every parameter that
// has one (L2 penalty, as in classic Adam weight decay).
func applyWeightDecay[B tensor.Backend](params []*nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor, decay float32) {
	if decay == 0 {
		return
	}
	for _, p := range params {
		raw := p.Tensor().Raw()
		grad, ok := grads[raw]
		if !ok || grad == nil {
			continue
		}
		g := grad.AsFloat32()
		w := raw.AsFloat32()
		for i := range g {
			g[i] += decay * w[i]
		}
	}
}

// Evaluate runs the network forward over loader with gradient recording
// off and scores it. Parameters are left untouched.
func (t *Trainer[X]) Evaluate(ctx context.Context, loader *dataset.Loader[*autodiff.Backend[X]]) (metrics.EvalResult, error) {
	tape := t.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	var res metrics.EvalResult
	classes := t.net.NumClasses()
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return metrics.EvalResult{}, fmt.Errorf("evaluate: %w", err)
		}
		logits := t.net.Forward(batch.Images)
		lossRaw := t.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw())
		res.AddBatch(logits.Raw().AsFloat32(), classes, batch.Labels.Raw().AsInt32(), float64(lossRaw.AsFloat32()[0]))
	}

	t.reporter.Eval(res)
	return res, nil
}
