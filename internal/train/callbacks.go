package train

import (
	"math"

	"go.uber.org/zap"
)

// Callback defines the interface for training callbacks. Methods run on the
// run's goroutine, so implementations must not block.
type Callback interface {
	OnTrainBegin(r *Run)
	OnEpochEnd(r *Run, m Metrics)
	OnTrainEnd(r *Run, res *Result)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(*Run)        {}
func (BaseCallback) OnEpochEnd(*Run, Metrics) {}
func (BaseCallback) OnTrainEnd(*Run, *Result) {}

// EarlyStopping ends a run early, as Completed, when validation loss has
// stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64

	bestLoss     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestLoss:  math.MaxFloat64,
	}
}

func (c *EarlyStopping) OnTrainBegin(*Run) {
	c.bestLoss = math.MaxFloat64
	c.numBadEpochs = 0
	c.Stopped = false
}

func (c *EarlyStopping) OnEpochEnd(r *Run, m Metrics) {
	if m.ValLoss < c.bestLoss-c.Threshold {
		c.bestLoss = m.ValLoss
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.Patience > 0 && c.numBadEpochs >= c.Patience && !c.Stopped {
		c.Stopped = true
		r.Stop()
	}
}

// Logger logs training progress every Interval epochs.
type Logger struct {
	BaseCallback
	Log      *zap.Logger
	Interval int
}

func (c Logger) OnEpochEnd(r *Run, m Metrics) {
	if c.Log == nil || c.Interval <= 0 {
		return
	}
	if m.Epoch%c.Interval == 0 || m.Epoch == m.Epochs {
		c.Log.Info("epoch",
			zap.String("run", r.ID()),
			zap.Int("epoch", m.Epoch),
			zap.Int("epochs", m.Epochs),
			zap.Float64("train_loss", m.TrainLoss),
			zap.Float64("val_loss", m.ValLoss),
			zap.Float64("val_accuracy", m.ValAccuracy),
			zap.Duration("elapsed", m.Elapsed))
	}
}
