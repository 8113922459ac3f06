// Package train runs asynchronous training of the failure classifier.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/activations"
	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/layer"
	"github.com/FlavioCFOliveira/FailSight/internal/net"
	"github.com/FlavioCFOliveira/FailSight/internal/opt"
)

var (
	// ErrAlreadyRunning is returned by Start while another run is in flight.
	ErrAlreadyRunning = errors.New("training already running")

	// ErrNumericDivergence is the terminal error of a run whose training or
	// validation loss became NaN or infinite.
	ErrNumericDivergence = errors.New("numeric divergence")

	// ErrCancelled is the terminal error of a cancelled run.
	ErrCancelled = errors.New("training cancelled")
)

// Config holds the training hyper-parameters.
type Config struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Optimizer       string
	LearningRate    float64
	Beta1           float64
	Beta2           float64
	Epsilon         float64
	// Seed drives weight init, shuffling and dropout. Zero picks a random seed.
	Seed        uint64
	Standardize bool
	Hidden      []net.LayerSpec
	// PreviewSamples fresh samples are scored after a completed run.
	PreviewSamples int
	// EarlyStoppingPatience ends a run once validation loss has not improved
	// for that many epochs. Zero disables it.
	EarlyStoppingPatience int
}

// DefaultConfig returns the reference training setup.
func DefaultConfig() Config {
	return Config{
		Epochs:          50,
		BatchSize:       32,
		ValidationSplit: 0.2,
		Optimizer:       "adam",
		LearningRate:    0.001,
		Beta1:           0.9,
		Beta2:           0.999,
		Epsilon:         1e-8,
		Seed:            42,
		Standardize:     true,
		Hidden:          append([]net.LayerSpec(nil), net.DefaultHidden...),
		PreviewSamples:  50,
	}
}

// Validate reports impossible hyper-parameters.
func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("train: epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("train: batch size must be positive, got %d", c.BatchSize)
	case c.ValidationSplit <= 0 || c.ValidationSplit >= 1:
		return fmt.Errorf("train: validation split %v outside (0,1)", c.ValidationSplit)
	case c.LearningRate <= 0:
		return fmt.Errorf("train: learning rate must be positive, got %v", c.LearningRate)
	case c.PreviewSamples < 0:
		return fmt.Errorf("train: preview samples must not be negative, got %d", c.PreviewSamples)
	case c.EarlyStoppingPatience < 0:
		return fmt.Errorf("train: early stopping patience must not be negative, got %d", c.EarlyStoppingPatience)
	}
	if c.Optimizer == "adam" || c.Optimizer == "" {
		if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
			return fmt.Errorf("train: adam betas (%v, %v) outside [0,1)", c.Beta1, c.Beta2)
		}
		if c.Epsilon <= 0 {
			return fmt.Errorf("train: adam epsilon must be positive, got %v", c.Epsilon)
		}
	}
	for i, spec := range c.Hidden {
		if spec.Units <= 0 || spec.Dropout < 0 || spec.Dropout >= 1 {
			return fmt.Errorf("train: hidden layer %d: %d units, dropout %v", i, spec.Units, spec.Dropout)
		}
		if _, err := activations.Parse(spec.Activation); err != nil {
			return fmt.Errorf("train: hidden layer %d: %w", i, err)
		}
	}
	if _, err := c.newOptimizer(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	return nil
}

func (c Config) newOptimizer() (opt.Optimizer, error) {
	o, err := opt.New(c.Optimizer, c.LearningRate)
	if err != nil {
		return nil, err
	}
	if adam, ok := o.(*opt.Adam); ok {
		adam.Beta1, adam.Beta2, adam.Epsilon = c.Beta1, c.Beta2, c.Epsilon
	}
	return o, nil
}

// Publisher receives the model of every completed run before the run is
// reported done.
type Publisher interface {
	Publish(model *net.Network) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(model *net.Network) error

func (f PublisherFunc) Publish(model *net.Network) error { return f(model) }

// Trainer owns at most one in-flight Run.
type Trainer struct {
	cfg       Config
	log       *zap.Logger
	callbacks []Callback
	publisher Publisher
	now       func() time.Time

	mu     sync.Mutex
	seq    uint64
	active *Run
	last   *Run
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Trainer) {
		if log != nil {
			t.log = log
		}
	}
}

// WithCallbacks registers callbacks invoked on the run goroutine.
func WithCallbacks(cbs ...Callback) Option {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, cbs...) }
}

// WithPublisher sets where completed models are published.
func WithPublisher(p Publisher) Option {
	return func(t *Trainer) { t.publisher = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// New creates a trainer.
func New(cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{
		cfg: cfg,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if cfg.EarlyStoppingPatience > 0 {
		t.callbacks = append(t.callbacks, NewEarlyStopping(cfg.EarlyStoppingPatience, 0))
	}
	return t, nil
}

// Config returns the trainer's hyper-parameters.
func (t *Trainer) Config() Config {
	return t.cfg
}

// Start validates and partitions data, then trains a fresh model on a new
// goroutine. The run stops early when ctx is cancelled, so callers serving a
// request should pass a context that outlives it.
func (t *Trainer) Start(ctx context.Context, data dataset.Dataset) (*Run, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	trainSet, valSet, err := data.Split(t.cfg.ValidationSplit)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.active != nil {
		id := t.active.id
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s", ErrAlreadyRunning, id)
	}
	t.seq++
	seq := t.seq
	started := t.now()
	runCtx, cancel := context.WithCancel(ctx)
	r := newRun(fmt.Sprintf("%s-%d", started.UTC().Format("20060102T150405"), seq), t.cfg.Epochs, cancel)
	r.startedAt = started
	r.trainSize, r.valSize = len(trainSet), len(valSet)
	t.active = r
	t.mu.Unlock()

	seed := t.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seq))

	t.log.Info("training started",
		zap.String("run", r.id),
		zap.Int("train", len(trainSet)),
		zap.Int("validation", len(valSet)),
		zap.Int("epochs", t.cfg.Epochs),
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.String("optimizer", t.cfg.Optimizer))

	for _, cb := range t.callbacks {
		cb.OnTrainBegin(r)
	}
	go t.run(runCtx, r, trainSet, valSet, rng)
	return r, nil
}

// Cancel cancels the in-flight run. It reports whether a run was cancelled.
func (t *Trainer) Cancel() bool {
	t.mu.Lock()
	r := t.active
	t.mu.Unlock()
	if r == nil {
		return false
	}
	r.Cancel()
	return true
}

// Status describes the in-flight run, or the last finished one.
func (t *Trainer) Status() Snapshot {
	t.mu.Lock()
	r := t.active
	if r == nil {
		r = t.last
	}
	t.mu.Unlock()
	if r == nil {
		return Snapshot{Status: Idle, Epochs: t.cfg.Epochs, Metrics: []Metrics{}}
	}
	return r.Snapshot()
}

// Last returns the most recently started run, or nil.
func (t *Trainer) Last() *Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		return t.active
	}
	return t.last
}

func (t *Trainer) run(ctx context.Context, r *Run, trainSet, valSet dataset.Dataset, rng *rand.Rand) {
	res := &Result{
		RunID:          r.id,
		TrainSize:      len(trainSet),
		ValidationSize: len(valSet),
		StartedAt:      r.startedAt,
	}
	defer t.finish(r, res)

	model, err := t.train(ctx, r, trainSet, valSet, rng)
	res.Metrics = r.Metrics()
	switch {
	case errors.Is(err, ErrCancelled):
		res.Status, res.Model, res.Err = Cancelled, model, err
		return
	case err != nil:
		res.Status, res.Err = Failed, err
		return
	}

	if err := model.MarkTrained(); err != nil {
		res.Status, res.Err = Failed, err
		return
	}
	res.Preview = t.preview(model, rng)
	if t.publisher != nil {
		if err := t.publisher.Publish(model); err != nil {
			res.Status, res.Err = Failed, fmt.Errorf("publish model: %w", err)
			return
		}
	}
	res.Status, res.Model = Completed, model
}

func (t *Trainer) train(ctx context.Context, r *Run, trainSet, valSet dataset.Dataset, rng *rand.Rand) (*net.Network, error) {
	optimizer, err := t.cfg.newOptimizer()
	if err != nil {
		return nil, err
	}
	topo := net.Topology{Inputs: dataset.NumFeatures, Hidden: t.cfg.Hidden}
	if t.cfg.Standardize {
		xTrain, _ := trainSet.Matrices()
		topo.Standardize = layer.FitStandardize(xTrain)
	}
	model, err := net.NewSequential(topo, optimizer, rng)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	if err := model.BeginTraining(); err != nil {
		return nil, err
	}

	xVal, yVal := valSet.Matrices()
	order := make([]int, len(trainSet))
	for i := range order {
		order[i] = i
	}

	epochs, batchSize := t.cfg.Epochs, t.cfg.BatchSize
	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return model, fmt.Errorf("%w before epoch %d: %v", ErrCancelled, epoch, err)
		}

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sum float64
		for start, batch := 0, 1; start < len(order); start, batch = start+batchSize, batch+1 {
			idx := order[start:min(start+batchSize, len(order))]
			x, y := trainSet.Batch(idx)
			l, err := model.TrainBatch(x, y)
			if err != nil {
				if errors.Is(err, net.ErrNonFiniteLoss) {
					return nil, fmt.Errorf("epoch %d batch %d: loss %v: %w", epoch, batch, l, ErrNumericDivergence)
				}
				return nil, fmt.Errorf("epoch %d batch %d: %w", epoch, batch, err)
			}
			sum += l * float64(len(idx))
		}

		valLoss, valAcc := model.Evaluate(xVal, yVal)
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return nil, fmt.Errorf("epoch %d validation: loss %v: %w", epoch, valLoss, ErrNumericDivergence)
		}

		m := Metrics{
			Epoch:       epoch,
			Epochs:      epochs,
			TrainLoss:   sum / float64(len(trainSet)),
			ValLoss:     valLoss,
			ValAccuracy: valAcc,
			Elapsed:     t.now().Sub(r.startedAt),
			Progress:    float64(epoch) / float64(epochs),
		}
		r.record(m)
		for _, cb := range t.callbacks {
			cb.OnEpochEnd(r, m)
		}
		if r.stopRequested() && epoch < epochs {
			t.log.Info("training stopped early", zap.String("run", r.id), zap.Int("epoch", epoch))
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return model, fmt.Errorf("%w after epoch %d: %v", ErrCancelled, len(r.Metrics()), err)
	}
	return model, nil
}

// preview scores freshly synthesized samples with the trained model.
func (t *Trainer) preview(model *net.Network, rng *rand.Rand) []Comparison {
	if t.cfg.PreviewSamples == 0 {
		return nil
	}
	synth := dataset.NewSynthesizer(rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())), dataset.WithClock(t.now))
	samples, err := synth.Generate(t.cfg.PreviewSamples)
	if err != nil {
		t.log.Warn("preview synthesis failed", zap.Error(err))
		return nil
	}
	x, _ := samples.Matrices()
	out := model.Predict(x)

	preview := make([]Comparison, len(samples))
	for i, s := range samples {
		preview[i] = Comparison{
			Actual:    s.Label,
			Predicted: out.At(i, 0),
			Timestamp: s.CreatedAt,
			Features:  s.Features,
		}
	}
	return preview
}

func (t *Trainer) finish(r *Run, res *Result) {
	res.FinishedAt = t.now()

	fields := []zap.Field{
		zap.String("run", r.id),
		zap.Stringer("status", res.Status),
		zap.Int("epochs_completed", len(res.Metrics)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	if last, ok := res.Final(); ok {
		fields = append(fields, zap.Float64("val_loss", last.ValLoss), zap.Float64("val_accuracy", last.ValAccuracy))
	}
	switch res.Status {
	case Completed:
		t.log.Info("training completed", fields...)
	case Cancelled:
		t.log.Info("training cancelled", fields...)
	default:
		t.log.Error("training failed", append(fields, zap.Error(res.Err))...)
	}

	for _, cb := range t.callbacks {
		cb.OnTrainEnd(r, res)
	}

	t.mu.Lock()
	t.active = nil
	t.last = r
	t.mu.Unlock()

	r.complete(res)
}
