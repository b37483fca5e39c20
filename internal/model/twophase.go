// Package model defines the two-phase classification network.
//
// The network is a small convolutional backbone shared by two heads:
//
//	Input: [batch, 3, H, W]
//	conv1: 3 -> 16, 3x3, pad 1, ReLU, MaxPool 2x2    [batch, 16, H/2, W/2]
//	conv2: 16 -> 32, 3x3, pad 1, ReLU, MaxPool 2x2   [batch, 32, H/4, W/4]
//	conv3: 32 -> 64, 3x3, pad 1, ReLU, MaxPool 2x2   [batch, 64, H/8, W/8]
//	neck:  64*(H/8)*(W/8) -> 128, ReLU
//	head_phase1: 128 -> 6    (coarse categories)
//	head_phase2: 128 -> 43   (fine-grained categories)
//
// The phase picks the active head and the trainable parameter groups. Both
// are fixed at construction; the optimizer receives TrainableParameters
// and nothing is frozen or unfrozen afterwards.
package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/matcher/internal/config"
)

// Class counts of the two heads.
const (
	NumClassesPhase1 = 6
	NumClassesPhase2 = 43
)

const neckFeatures = 128

// Group names a set of parameters that is trained or frozen together.
type Group string

// Parameter groups.
const (
	GroupStem       Group = "backbone.stem" // conv1, conv2
	GroupTop        Group = "backbone.top"  // conv3, neck
	GroupHeadPhase1 Group = "head.phase1"
	GroupHeadPhase2 Group = "head.phase2"
)

// TrainableGroups returns the groups the optimizer updates in phase.
func TrainableGroups(phase config.Phase) []Group {
	switch phase {
	case config.Phase1:
		return []Group{GroupStem, GroupTop, GroupHeadPhase1}
	case config.Phase2:
		return []Group{GroupTop, GroupHeadPhase2}
	}
	return nil
}

// NumClasses returns the size of the head used in phase.
func NumClasses(phase config.Phase) int {
	if phase == config.Phase1 {
		return NumClassesPhase1
	}
	return NumClassesPhase2
}

// ErrShapeMismatch is returned when a loaded tensor does not fit the
// parameter with the same name.
var ErrShapeMismatch = errors.New("shape mismatch")

// NamedParameter is a parameter with its state-dict name and group.
type NamedParameter[B tensor.Backend] struct {
	Name  string
	Group Group
	Param *nn.Parameter[B]
}

// TwoPhaseNet is the backbone plus both heads, configured for one phase.
type TwoPhaseNet[B tensor.Backend] struct {
	name   string
	phase  config.Phase
	height int
	width  int

	conv1 *nn.Conv2D[B]
	conv2 *nn.Conv2D[B]
	conv3 *nn.Conv2D[B]
	relu  *nn.ReLU[B]
	pool  *nn.MaxPool2D[B]
	neck  *nn.Linear[B]
	head1 *nn.Linear[B]
	head2 *nn.Linear[B]

	params []NamedParameter[B]
}

// New builds a network for images of height x width (both divisible by 8).
func New[B tensor.Backend](name string, phase config.Phase, height, width int, backend B) (*TwoPhaseNet[B], error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase %d", phase)
	}
	if height <= 0 || width <= 0 || height%8 != 0 || width%8 != 0 {
		return nil, fmt.Errorf("image size %dx%d must be positive and divisible by 8", height, width)
	}

	m := &TwoPhaseNet[B]{
		name:   name,
		phase:  phase,
		height: height,
		width:  width,
		conv1:  nn.NewConv2D(3, 16, 3, 3, 1, 1, true, backend),
		conv2:  nn.NewConv2D(16, 32, 3, 3, 1, 1, true, backend),
		conv3:  nn.NewConv2D(32, 64, 3, 3, 1, 1, true, backend),
		relu:   nn.NewReLU[B](),
		pool:   nn.NewMaxPool2D(2, 2, backend),
		neck:   nn.NewLinear(64*(height/8)*(width/8), neckFeatures, backend),
		head1:  nn.NewLinear(neckFeatures, NumClassesPhase1, backend),
		head2:  nn.NewLinear(neckFeatures, NumClassesPhase2, backend),
	}

	m.register("backbone.conv1", GroupStem, m.conv1.Parameters())
	m.register("backbone.conv2", GroupStem, m.conv2.Parameters())
	m.register("backbone.conv3", GroupTop, m.conv3.Parameters())
	m.register("neck", GroupTop, m.neck.Parameters())
	m.register("head_phase1", GroupHeadPhase1, m.head1.Parameters())
	m.register("head_phase2", GroupHeadPhase2, m.head2.Parameters())
	return m, nil
}

// register names the weight and bias of one layer. Born layers name their
// parameters "weight" or "conv2d.weight"; only the last segment is kept.
func (m *TwoPhaseNet[B]) register(prefix string, group Group, params []*nn.Parameter[B]) {
	for _, p := range params {
		leaf := p.Name()
		if i := strings.LastIndexByte(leaf, '.'); i >= 0 {
			leaf = leaf[i+1:]
		}
		m.params = append(m.params, NamedParameter[B]{
			Name:  prefix + "." + leaf,
			Group: group,
			Param: p,
		})
	}
}

// Forward maps [batch, 3, H, W] images to [batch, classes] logits of the
// active head. No softmax is applied.
func (m *TwoPhaseNet[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != 3 || shape[2] != m.height || shape[3] != m.width {
		panic(fmt.Sprintf("expected input [batch, 3, %d, %d], got %v", m.height, m.width, shape))
	}

	x := m.pool.Forward(m.relu.Forward(m.conv1.Forward(input)))
	x = m.pool.Forward(m.relu.Forward(m.conv2.Forward(x)))
	x = m.pool.Forward(m.relu.Forward(m.conv3.Forward(x)))

	batch := x.Shape()[0]
	x = x.Reshape(batch, 64*(m.height/8)*(m.width/8))
	x = m.relu.Forward(m.neck.Forward(x))

	if m.phase == config.Phase1 {
		return m.head1.Forward(x)
	}
	return m.head2.Forward(x)
}

// Parameters returns every parameter, trainable or not.
func (m *TwoPhaseNet[B]) Parameters() []*nn.Parameter[B] {
	out := make([]*nn.Parameter[B], len(m.params))
	for i, np := range m.params {
		out[i] = np.Param
	}
	return out
}

// TrainableParameters returns the parameters of the phase's trainable
// groups. This is the set handed to the optimizer.
func (m *TwoPhaseNet[B]) TrainableParameters() []*nn.Parameter[B] {
	groups := TrainableGroups(m.phase)
	var out []*nn.Parameter[B]
	for _, np := range m.params {
		if slices.Contains(groups, np.Group) {
			out = append(out, np.Param)
		}
	}
	return out
}

// NamedParameters returns every parameter with its name, in a fixed order.
func (m *TwoPhaseNet[B]) NamedParameters() []NamedParameter[B] {
	return slices.Clone(m.params)
}

// Lookup returns the parameter with the given state-dict name.
func (m *TwoPhaseNet[B]) Lookup(name string) (*nn.Parameter[B], bool) {
	for _, np := range m.params {
		if np.Name == name {
			return np.Param, true
		}
	}
	return nil, false
}

// StateDict returns the raw tensors of every parameter by name.
func (m *TwoPhaseNet[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(m.params))
	for _, np := range m.params {
		state[np.Name] = np.Param.Tensor().Raw()
	}
	return state
}

// LoadStateDict loads a complete state dictionary. Every parameter must be
// present with a matching shape. Use checkpoint.LoadPartial for loads
// across phases.
func (m *TwoPhaseNet[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, np := range m.params {
		raw, ok := state[np.Name]
		if !ok {
			return fmt.Errorf("missing %s in state dict", np.Name)
		}
		if err := Assign(np.Param, raw); err != nil {
			return fmt.Errorf("%s: %w", np.Name, err)
		}
	}
	return nil
}

// Assign copies raw into p in place.
func Assign[B tensor.Backend](p *nn.Parameter[B], raw *tensor.RawTensor) error {
	dst := p.Tensor()
	if !dst.Shape().Equal(raw.Shape()) {
		return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, dst.Shape(), raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("dtype mismatch: expected float32, got %v", raw.DType())
	}
	copy(dst.Raw().AsFloat32(), raw.AsFloat32())
	return nil
}

// Name returns the model name used in checkpoint file names.
func (m *TwoPhaseNet[B]) Name() string {
	return m.name
}

// Phase returns the phase the network was built for.
func (m *TwoPhaseNet[B]) Phase() config.Phase {
	return m.phase
}

// NumClasses returns the width of the active head.
func (m *TwoPhaseNet[B]) NumClasses() int {
	return NumClasses(m.phase)
}

// CountParameters returns the number of scalar weights in params.
func CountParameters[B tensor.Backend](params []*nn.Parameter[B]) int {
	total := 0
	for _, p := range params {
		total += p.Tensor().NumElements()
	}
	return total
}

// String returns a summary of the architecture.
func (m *TwoPhaseNet[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TwoPhaseNet(name=%s, phase=%s, input=3x%dx%d)\n", m.name, m.phase, m.height, m.width)
	fmt.Fprintf(&sb, "  %s\n  %s\n  %s\n", m.conv1.String(), m.conv2.String(), m.conv3.String())
	fmt.Fprintf(&sb, "  Linear(in=%d, out=%d)\n", m.neck.InFeatures(), m.neck.OutFeatures())
	fmt.Fprintf(&sb, "  head_phase1: Linear(in=%d, out=%d)\n", neckFeatures, NumClassesPhase1)
	fmt.Fprintf(&sb, "  head_phase2: Linear(in=%d, out=%d)\n", neckFeatures, NumClassesPhase2)
	fmt.Fprintf(&sb, "  trainable: %v", TrainableGroups(m.phase))
	return sb.String()
}
