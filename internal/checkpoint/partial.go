package checkpoint

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/matcher/internal/model"
)

// Report describes how a checkpoint was reconciled with a model.
type Report struct {
	Loaded  []string // present in both, copied
	Skipped []string // in the checkpoint only, ignored
	Missing []string // in the model only, left at their current values
}

// stateCapture is a Module that only keeps the state dictionary nn.Load
// hands to it.
type stateCapture[B tensor.Backend] struct {
	state map[string]*tensor.RawTensor
}

func (c *stateCapture[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input
}

func (c *stateCapture[B]) Parameters() []*nn.Parameter[B] { return nil }

func (c *stateCapture[B]) StateDict() map[string]*tensor.RawTensor { return c.state }

func (c *stateCapture[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	c.state = state
	return nil
}

// ReadState reads the raw state dictionary stored at path.
func ReadState[B tensor.Backend](path string, backend B) (map[string]*tensor.RawTensor, error) {
	capture := &stateCapture[B]{}
	if _, err := nn.Load[B](path, backend, capture); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	return capture.state, nil
}

// LoadPartial reads path and copies every parameter whose name also exists
// in net. Names on either side without a counterpart are reported and
// logged, not treated as errors. A shape mismatch under a shared name is
// an error.
func LoadPartial[B tensor.Backend](path string, backend B, net *model.TwoPhaseNet[B]) (Report, error) {
	state, err := ReadState(path, backend)
	if err != nil {
		return Report{}, err
	}
	report, err := Reconcile(net, state)
	if err != nil {
		return report, fmt.Errorf("apply checkpoint %s: %w", path, err)
	}

	slog.Info("checkpoint reconciled", "path", path,
		"loaded", len(report.Loaded), "skipped", len(report.Skipped), "missing", len(report.Missing))
	if len(report.Skipped) > 0 {
		slog.Warn("checkpoint parameters not in model", "names", report.Skipped)
	}
	if len(report.Missing) > 0 {
		slog.Warn("model parameters not in checkpoint", "names", report.Missing)
	}
	return report, nil
}

// Reconcile copies the intersection of state and net's parameters into net.
func Reconcile[B tensor.Backend](net *model.TwoPhaseNet[B], state map[string]*tensor.RawTensor) (Report, error) {
	var report Report

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		param, ok := net.Lookup(name)
		if !ok {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if err := model.Assign(param, state[name]); err != nil {
			return report, fmt.Errorf("%s: %w", name, err)
		}
		report.Loaded = append(report.Loaded, name)
	}

	for _, np := range net.NamedParameters() {
		if _, ok := state[np.Name]; !ok {
			report.Missing = append(report.Missing, np.Name)
		}
	}
	return report, nil
}
