package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/matcher/internal/checkpoint"
	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/dataset"
	"github.com/born-ml/matcher/internal/history"
	"github.com/born-ml/matcher/internal/metrics"
	"github.com/born-ml/matcher/internal/model"
)

// Result is the outcome of a completed run.
type Result struct {
	RunID  string
	Epochs []metrics.EpochResult
	// BestAccuracy is the highest validation accuracy of this run,
	// whether or not best checkpoints were saved.
	BestAccuracy float64
	// PreviousBest is the best accuracy stored in the history for the same
	// model and phase before this run started. Zero without history.
	PreviousBest float64
}

// InitPath returns the checkpoint a run starts from, or "" for a fresh
// network. Phase 2 falls back to the phase 1 best checkpoint.
func InitPath(cfg config.Config) string {
	if cfg.LoadPath != "" {
		return cfg.LoadPath
	}
	if cfg.Phase == config.Phase2 {
		return filepath.Join(cfg.ExpBaseDir, checkpoint.BestName(cfg.ModelName, config.Phase1))
	}
	return ""
}

// Run executes a full training run on the inner backend: data, network,
// optional partial load, then epochs 1..NumEpochs with evaluation and
// checkpointing after each. Any error aborts the run.
func Run[X tensor.Backend](ctx context.Context, cfg config.Config, inner X, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if out == nil {
		out = io.Discard
	}
	backend := autodiff.New(inner)
	runID := uuid.NewString()
	height, width := cfg.ImageSize[0], cfg.ImageSize[1]

	trainDS, err := dataset.Open(cfg.TrainManifest, cfg.ImageColumn, cfg.LabelColumn(), nil)
	if err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	valDS, err := dataset.Open(cfg.ValManifest, cfg.ImageColumn, cfg.LabelColumn(), trainDS.Encoder())
	if err != nil {
		return nil, fmt.Errorf("validation split: %w", err)
	}
	if n, limit := trainDS.Encoder().Len(), model.NumClasses(cfg.Phase); n > limit {
		return nil, fmt.Errorf("label column %q has %d classes, phase %s head has %d", cfg.LabelColumn(), n, cfg.Phase, limit)
	}
	classes := trainDS.Encoder().Classes()
	slog.Info("datasets loaded", "train", trainDS.Len(), "val", valDS.Len(), "classes", len(classes))
	slog.Debug("label encoding", "column", cfg.LabelColumn(), "classes", classes)

	src := dataset.FileSource{Dir: cfg.ImageDir, Height: height, Width: width}
	trainLoader, err := dataset.NewLoader(trainDS, src, dataset.Options{
		BatchSize: cfg.BatchSize, Shuffle: cfg.Shuffle, Seed: cfg.Seed, Workers: cfg.NumWorkers, Height: height, Width: width,
	}, backend)
	if err != nil {
		return nil, err
	}
	valLoader, err := dataset.NewLoader(valDS, src, dataset.Options{
		BatchSize: cfg.BatchSize, Shuffle: cfg.Shuffle, Seed: cfg.Seed + 1, Workers: cfg.NumWorkers, Height: height, Width: width,
	}, backend)
	if err != nil {
		return nil, err
	}

	net, err := model.New(cfg.ModelName, cfg.Phase, height, width, backend)
	if err != nil {
		return nil, err
	}
	if path := InitPath(cfg); path != "" {
		if _, err := checkpoint.LoadPartial(path, backend, net); err != nil {
			return nil, err
		}
	}
	slog.Info("model ready", "model", net.Name(), "phase", net.Phase(),
		"parameters", model.CountParameters(net.Parameters()),
		"trainable", model.CountParameters(net.TrainableParameters()))
	slog.Debug("architecture", "model", net.String())

	res := &Result{RunID: runID}
	store, err := openHistory(ctx, cfg, runID)
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer store.Close()
		res.PreviousBest, err = previousBest(ctx, store, cfg)
		if err != nil {
			return nil, err
		}
	}

	t := New(backend, net, Options{LR: cfg.LR, WeightDecay: cfg.WeightDecay, LogEvery: cfg.LogEvery, Out: out})
	writer := checkpoint.NewWriter[*autodiff.Backend[X]](cfg, net, runID, classes)

	for epoch := 1; epoch <= cfg.NumEpochs; epoch++ {
		start := time.Now()

		losses, err := t.TrainEpoch(ctx, epoch, trainLoader)
		if err != nil {
			return res, err
		}
		eval, err := t.Evaluate(ctx, valLoader)
		if err != nil {
			return res, err
		}

		decision, saved, err := writer.AfterEpoch(epoch, eval.Accuracy())
		if err != nil {
			return res, err
		}

		er := metrics.EpochResult{
			Epoch:     epoch,
			TrainLoss: losses.Mean(),
			Eval:      eval,
			Elapsed:   time.Since(start),
			Best:      decision.Best,
			Saved:     saved,
		}
		res.Epochs = append(res.Epochs, er)
		res.BestAccuracy = max(res.BestAccuracy, eval.Accuracy())

		if store != nil {
			if err := store.RecordEpoch(ctx, runID, er); err != nil {
				return res, err
			}
		}
	}

	metrics.Summary(out, res.Epochs)
	return res, nil
}

// previousBest returns the stored best of earlier runs of the same model
// and phase. The current run has no epochs yet, so it is excluded.
func previousBest(ctx context.Context, store *history.Store, cfg config.Config) (float64, error) {
	best, ok, err := store.BestAccuracy(ctx, cfg.ModelName, int(cfg.Phase))
	if err != nil {
		return 0, err
	}
	if ok {
		slog.Info("previous best", "model", cfg.ModelName, "phase", cfg.Phase, "accuracy", best)
	}
	return best, nil
}

func openHistory(ctx context.Context, cfg config.Config, runID string) (*history.Store, error) {
	if !cfg.History {
		return nil, nil
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}

	dump, err := yaml.Marshal(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("encode config: %w", err)
	}
	err = store.StartRun(ctx, history.Run{
		ID:        runID,
		ModelName: cfg.ModelName,
		Phase:     int(cfg.Phase),
		Config:    string(dump),
		StartedAt: time.Now(),
	})
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return store, nil
}
