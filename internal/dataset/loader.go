package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"
	"golang.org/x/sync/errgroup"
)

// Batch is a mini-batch ready for the network.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [Size, 3, H, W]
	Labels *tensor.Tensor[int32, B]   // [Size]
	Size   int
	Index  int // position within the epoch, from 0
}

// Options controls batching.
type Options struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	Workers   int // concurrent image decodes per batch
	Height    int
	Width     int
}

// Loader yields the batches of a Dataset, one epoch per call to Batches.
type Loader[B tensor.Backend] struct {
	ds      *Dataset
	src     ImageSource
	opts    Options
	backend B
	rng     *rand.Rand
}

// NewLoader creates a loader. The shuffle order is derived from opts.Seed
// and changes every epoch.
func NewLoader[B tensor.Backend](ds *Dataset, src ImageSource, opts Options, backend B) (*Loader[B], error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.Height <= 0 || opts.Width <= 0 {
		return nil, fmt.Errorf("image size must be positive (got %dx%d)", opts.Height, opts.Width)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Loader[B]{
		ds:      ds,
		src:     src,
		opts:    opts,
		backend: backend,
		rng:     rand.New(rand.NewPCG(uint64(opts.Seed), 0x6d61746368)),
	}, nil
}

// Len returns the number of samples per epoch.
func (l *Loader[B]) Len() int {
	return l.ds.Len()
}

// NumBatches returns ceil(Len / BatchSize).
func (l *Loader[B]) NumBatches() int {
	return (l.ds.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// BatchSize returns the configured batch size.
func (l *Loader[B]) BatchSize() int {
	return l.opts.BatchSize
}

// Batches returns one epoch of batches. Iteration stops at the first error,
// which is yielded with a nil batch.
func (l *Loader[B]) Batches(ctx context.Context) iter.Seq2[*Batch[B], error] {
	chunks := splitBatches(l.order(), l.opts.BatchSize)
	return func(yield func(*Batch[B], error) bool) {
		for i, idx := range chunks {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			batch, err := l.build(ctx, i, idx)
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader[B]) order() []int {
	n := l.ds.Len()
	if l.opts.Shuffle {
		return l.rng.Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// splitBatches cuts order into consecutive groups of size; the last group
// may be short.
func splitBatches(order []int, size int) [][]int {
	batches := make([][]int, 0, (len(order)+size-1)/size)
	for start := 0; start < len(order); start += size {
		end := min(start+size, len(order))
		batches = append(batches, order[start:end])
	}
	return batches
}

func (l *Loader[B]) build(ctx context.Context, index int, idx []int) (*Batch[B], error) {
	n := len(idx)
	plane := 3 * l.opts.Height * l.opts.Width

	imagesRaw, err := tensor.NewRaw(tensor.Shape{n, 3, l.opts.Height, l.opts.Width}, tensor.Float32, l.backend.Device())
	if err != nil {
		return nil, fmt.Errorf("allocate images tensor: %w", err)
	}
	labelsRaw, err := tensor.NewRaw(tensor.Shape{n}, tensor.Int32, l.backend.Device())
	if err != nil {
		return nil, fmt.Errorf("allocate labels tensor: %w", err)
	}
	images := imagesRaw.AsFloat32()
	labels := labelsRaw.AsInt32()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for slot, sampleIdx := range idx {
		sample := l.ds.Sample(sampleIdx)
		labels[slot] = int32(sample.Label)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pixels, err := l.src.Load(sample.Path)
			if err != nil {
				return err
			}
			if len(pixels) != plane {
				return fmt.Errorf("%s: %w: got %d values, want %d", sample.Path, errPixelCount, len(pixels), plane)
			}
			copy(images[slot*plane:(slot+1)*plane], pixels)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Batch[B]{
		Images: tensor.New[float32, B](imagesRaw, l.backend),
		Labels: tensor.New[int32, B](labelsRaw, l.backend),
		Size:   n,
		Index:  index,
	}, nil
}

var errPixelCount = errors.New("unexpected pixel count")
