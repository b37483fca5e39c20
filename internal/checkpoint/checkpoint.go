// Package checkpoint decides when model weights are persisted and loads
// them back, fully or partially.
//
// Files use Born's native .born format. Two naming conventions exist:
//
//	{model}_{epoch:03d}.born      periodic, one file per matching epoch
//	{model}_phase{N}_best.born    best accuracy so far, overwritten
package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/matcher/internal/config"
)

// Ext is the checkpoint file extension.
const Ext = ".born"

// modelType is recorded in the .born header.
const modelType = "TwoPhaseNet"

// PeriodicName returns the file name of the periodic checkpoint for epoch.
func PeriodicName(modelName string, epoch int) string {
	return fmt.Sprintf("%s_%03d%s", modelName, epoch, Ext)
}

// BestName returns the file name of the best checkpoint for phase.
func BestName(modelName string, phase config.Phase) string {
	return fmt.Sprintf("%s_phase%s_best%s", modelName, phase, Ext)
}

// Policy holds the two independent save rules and the best accuracy seen.
type Policy struct {
	SaveEvery bool
	Frequency int
	SaveBest  bool

	best float64
}

// NewPolicy builds a policy from cfg.
func NewPolicy(cfg config.Config) *Policy {
	return &Policy{
		SaveEvery: cfg.SaveEveryFreq,
		Frequency: cfg.SaveFrequency,
		SaveBest:  cfg.SaveBest,
	}
}

// Decision says which checkpoints to write after an epoch.
type Decision struct {
	Periodic bool
	Best     bool
}

// Decide records accuracy for epoch and returns the writes it triggers.
// Best is set only when accuracy is strictly greater than every earlier
// accuracy (the first epoch competes against 0).
func (p *Policy) Decide(epoch int, accuracy float64) Decision {
	var d Decision
	if p.SaveEvery && p.Frequency > 0 && epoch%p.Frequency == 0 {
		d.Periodic = true
	}
	if p.SaveBest && accuracy > p.best {
		p.best = accuracy
		d.Best = true
	}
	return d
}

// Metadata is stored in the checkpoint header.
type Metadata struct {
	RunID    string
	Phase    config.Phase
	Epoch    int
	Accuracy float64
	Classes  []string // label of each output index
}

func (m Metadata) toMap() map[string]string {
	return map[string]string{
		"run_id":   m.RunID,
		"phase":    m.Phase.String(),
		"epoch":    strconv.Itoa(m.Epoch),
		"accuracy": strconv.FormatFloat(m.Accuracy, 'f', 3, 64),
		"classes":  strings.Join(m.Classes, ","),
	}
}

// Save writes the state dictionary of module to path, creating the parent
// directory when needed.
func Save[B tensor.Backend](module nn.Module[B], path string, meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := nn.Save(module, path, modelType, meta.toMap()); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	slog.Info("checkpoint saved", "path", path, "epoch", meta.Epoch, "accuracy", meta.Accuracy)
	return nil
}

// Writer applies a Policy to one model and writes the files it asks for.
type Writer[B tensor.Backend] struct {
	policy *Policy
	module nn.Module[B]
	dir    string
	name   string
	phase   config.Phase
	runID   string
	classes []string
}

// NewWriter creates a writer storing files under cfg.ExpBaseDir. classes
// are recorded in every file so the head outputs can be named later.
func NewWriter[B tensor.Backend](cfg config.Config, module nn.Module[B], runID string, classes []string) *Writer[B] {
	return &Writer[B]{
		policy:  NewPolicy(cfg),
		module:  module,
		dir:     cfg.ExpBaseDir,
		name:    cfg.ModelName,
		phase:   cfg.Phase,
		runID:   runID,
		classes: classes,
	}
}

// AfterEpoch applies the policy and returns the paths written.
func (w *Writer[B]) AfterEpoch(epoch int, accuracy float64) (Decision, []string, error) {
	d := w.policy.Decide(epoch, accuracy)
	meta := Metadata{RunID: w.runID, Phase: w.phase, Epoch: epoch, Accuracy: accuracy, Classes: w.classes}

	var written []string
	if d.Periodic {
		path := filepath.Join(w.dir, PeriodicName(w.name, epoch))
		if err := Save(w.module, path, meta); err != nil {
			return d, written, err
		}
		written = append(written, path)
	}
	if d.Best {
		path := filepath.Join(w.dir, BestName(w.name, w.phase))
		if err := Save(w.module, path, meta); err != nil {
			return d, written, err
		}
		written = append(written, path)
	}
	return d, written, nil
}
