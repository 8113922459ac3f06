package train

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/net"
)

// Status is the state of a training run.
type Status int

const (
	Idle Status = iota
	Running
	Completed
	Failed
	Cancelled
)

var statusNames = [...]string{"idle", "running", "completed", "failed", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("train: unknown status %q", text)
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Metrics is the record of one completed epoch.
type Metrics struct {
	Epoch       int           `json:"epoch"`
	Epochs      int           `json:"epochs"`
	TrainLoss   float64       `json:"train_loss"`
	ValLoss     float64       `json:"val_loss"`
	ValAccuracy float64       `json:"val_accuracy"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Progress    float64       `json:"progress"`
}

// Comparison is one preview sample scored by a trained model.
type Comparison struct {
	Actual    int              `json:"actual"`
	Predicted float64          `json:"predicted"`
	Timestamp time.Time        `json:"timestamp"`
	Features  dataset.Features `json:"features"`
}

// Result is the terminal outcome of a run.
type Result struct {
	RunID  string
	Status Status
	// Model is the trained network when Status is Completed. A Cancelled run
	// carries the network as it stood at cancellation, still in the Training
	// state and never published.
	Model          *net.Network
	Metrics        []Metrics
	Err            error
	TrainSize      int
	ValidationSize int
	Preview        []Comparison
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Final returns the metrics of the last completed epoch.
func (r *Result) Final() (Metrics, bool) {
	if len(r.Metrics) == 0 {
		return Metrics{}, false
	}
	return r.Metrics[len(r.Metrics)-1], true
}

// Summary is the headline of a finished run as the dashboard shows it.
type Summary struct {
	Accuracy     float64       `json:"accuracy"`
	Loss         float64       `json:"loss"`
	Epochs       int           `json:"epochs"`
	TrainingTime time.Duration `json:"training_time_ns"`
}

// Summary reports validation accuracy as a percentage, the final validation
// loss, the number of completed epochs and the wall time.
func (r *Result) Summary() Summary {
	s := Summary{
		Epochs:       len(r.Metrics),
		TrainingTime: r.FinishedAt.Sub(r.StartedAt),
	}
	if last, ok := r.Final(); ok {
		s.Accuracy = last.ValAccuracy * 100
		s.Loss = last.ValLoss
	}
	return s
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID          string    `json:"run_id,omitempty"`
	Status         Status    `json:"status"`
	Epochs         int       `json:"epochs"`
	TrainSize      int       `json:"train_size,omitempty"`
	ValidationSize int       `json:"validation_size,omitempty"`
	Latest         *Metrics  `json:"latest,omitempty"`
	Metrics        []Metrics `json:"metrics"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}

// Run is one asynchronous training run.
type Run struct {
	id        string
	epochs    int
	startedAt time.Time
	trainSize int
	valSize   int

	progress chan Metrics
	done     chan struct{}
	cancel   context.CancelFunc
	stop     atomic.Bool

	mu      sync.Mutex
	status  Status
	metrics []Metrics
	result  *Result
}

func newRun(id string, epochs int, cancel context.CancelFunc) *Run {
	return &Run{
		id:       id,
		epochs:   epochs,
		progress: make(chan Metrics, epochs),
		done:     make(chan struct{}),
		cancel:   cancel,
		status:   Running,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Epochs returns the number of epochs the run was started with.
func (r *Run) Epochs() int { return r.epochs }

// StartedAt returns when the run was started.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Progress delivers one Metrics per completed epoch. The channel holds every
// epoch, so the run never blocks on a slow reader, and it is closed when the
// run ends.
func (r *Run) Progress() <-chan Metrics { return r.progress }

// Done is closed once the run has a terminal result.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel requests cancellation. It takes effect at the next epoch boundary;
// calling it on a finished run is a no-op.
func (r *Run) Cancel() { r.cancel() }

// Stop asks the run to finish after the current epoch. Unlike Cancel the
// run completes normally and its model is published.
func (r *Run) Stop() { r.stop.Store(true) }

func (r *Run) stopRequested() bool { return r.stop.Load() }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the terminal result, or nil while running.
func (r *Run) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Status returns the run's current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Metrics returns a copy of the epoch records so far.
func (r *Run) Metrics() []Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Metrics(nil), r.metrics...)
}

// Snapshot returns a point-in-time view of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		RunID:          r.id,
		Status:         r.status,
		Epochs:         r.epochs,
		TrainSize:      r.trainSize,
		ValidationSize: r.valSize,
		Metrics:        append(make([]Metrics, 0, len(r.metrics)), r.metrics...),
		StartedAt:      r.startedAt,
	}
	if n := len(r.metrics); n > 0 {
		latest := r.metrics[n-1]
		s.Latest = &latest
	}
	if r.result != nil && r.result.Err != nil {
		s.Error = r.result.Err.Error()
	}
	return s
}

func (r *Run) record(m Metrics) {
	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()
	r.progress <- m
}

func (r *Run) complete(res *Result) {
	r.mu.Lock()
	r.status = res.Status
	r.result = res
	r.mu.Unlock()

	close(r.progress)
	r.cancel()
	close(r.done)
}
