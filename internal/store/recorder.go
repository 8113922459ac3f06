package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

const writeTimeout = 5 * time.Second

// recorder persists run progress as training proceeds. Write failures are
// logged and never stop a run.
type recorder struct {
	train.BaseCallback
	s *Store
}

// Recorder returns a training callback that writes every run, epoch and
// terminal state to the store.
func (s *Store) Recorder() train.Callback {
	return recorder{s: s}
}

func (c recorder) OnTrainBegin(r *train.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	snap := r.Snapshot()
	if err := c.s.StartRun(ctx, r.ID(), r.Epochs(), snap.TrainSize, snap.ValidationSize, r.StartedAt()); err != nil {
		c.s.log.Error("store run", zap.String("run", r.ID()), zap.Error(err))
	}
}

func (c recorder) OnEpochEnd(r *train.Run, m train.Metrics) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.s.RecordEpoch(ctx, r.ID(), m); err != nil {
		c.s.log.Error("store epoch", zap.String("run", r.ID()), zap.Int("epoch", m.Epoch), zap.Error(err))
	}
}

func (c recorder) OnTrainEnd(r *train.Run, res *train.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.s.FinishRun(ctx, res); err != nil {
		c.s.log.Error("store result", zap.String("run", r.ID()), zap.Error(err))
	}
}
