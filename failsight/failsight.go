// Package failsight trains a small neural network on synthetic machine sensor
// readings and serves failure-risk predictions from the trained model.
//
// A Service owns one trainer and one predictor. Train synthesizes a fresh
// dataset and starts an asynchronous run; when the run completes its model
// replaces the one Predict serves.
package failsight

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/predict"
	"github.com/FlavioCFOliveira/FailSight/internal/store"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidInput      = dataset.ErrInvalidInput
	ErrNumericDivergence = train.ErrNumericDivergence
	ErrModelNotTrained   = predict.ErrModelNotTrained
	ErrAlreadyRunning    = train.ErrAlreadyRunning
)

// Re-exported types.
type (
	Features   = dataset.Features
	Dataset    = dataset.Dataset
	Prediction = predict.Result
	RiskLevel  = predict.RiskLevel
	Run        = train.Run
	RunResult  = train.Result
	Metrics    = train.Metrics
	Snapshot   = train.Snapshot
	Callback   = train.Callback
)

// Risk levels.
const (
	Low    = predict.Low
	Medium = predict.Medium
	High   = predict.High
)

// DefaultInput is the demo feature vector.
var DefaultInput = dataset.DefaultInput

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStore records runs and served predictions in st.
func WithStore(st *store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithCallbacks adds training callbacks, such as a progress broadcaster.
func WithCallbacks(cbs ...Callback) Option {
	return func(s *Service) { s.callbacks = append(s.callbacks, cbs...) }
}

// Service is the in-process API.
type Service struct {
	cfg       config.TrainingConfig
	log       *zap.Logger
	store     *store.Store
	callbacks []Callback

	trainer   *train.Trainer
	predictor *predict.Predictor

	mu    sync.Mutex
	synth *dataset.Synthesizer
}

// New builds a service from cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg.Training, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}

	predictor, err := predict.New(predict.WithCache(cfg.Prediction.CacheSize), predict.WithLogger(s.log))
	if err != nil {
		return nil, err
	}

	cbs := []train.Callback{train.Logger{Log: s.log, Interval: cfg.Training.LogInterval}}
	if cfg.Training.MetricsCSV != "" {
		cbs = append(cbs, train.NewCSVLogger(cfg.Training.MetricsCSV, true, s.log))
	}
	if s.store != nil {
		cbs = append(cbs, s.store.Recorder())
	}
	cbs = append(cbs, s.callbacks...)

	trainer, err := train.New(cfg.Training.TrainConfig(),
		train.WithLogger(s.log),
		train.WithCallbacks(cbs...),
		train.WithPublisher(predictor))
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if seed := cfg.Training.Seed; seed != 0 {
		rng = rand.New(rand.NewPCG(seed, 0))
	}
	s.trainer = trainer
	s.predictor = predictor
	s.synth = dataset.NewSynthesizer(rng)
	return s, nil
}

// Train synthesizes training.samples readings and starts a run on them. The
// run is bound to ctx; pass a context that outlives the calling request.
func (s *Service) Train(ctx context.Context) (*Run, error) {
	data, err := s.Synthesize()
	if err != nil {
		return nil, err
	}
	return s.trainer.Start(ctx, data)
}

// Synthesize returns training.samples fresh readings.
func (s *Service) Synthesize() (Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synth.Generate(s.cfg.Samples)
}

// TrainOn starts a run on caller-provided data, such as a file read with
// dataset.LoadCSV.
func (s *Service) TrainOn(ctx context.Context, data Dataset) (*Run, error) {
	return s.trainer.Start(ctx, data)
}

// Cancel cancels the in-flight run and reports whether there was one.
func (s *Service) Cancel() bool {
	return s.trainer.Cancel()
}

// Status describes the in-flight or last run.
func (s *Service) Status() Snapshot {
	return s.trainer.Status()
}

// Last returns the most recent run, or nil.
func (s *Service) Last() *Run {
	return s.trainer.Last()
}

// Ready reports whether a trained model is being served.
func (s *Service) Ready() bool {
	return s.predictor.Ready()
}

// Predict scores a feature vector in the order temperature, vibration,
// pressure, speed, load.
func (s *Service) Predict(ctx context.Context, features []float64) (Prediction, error) {
	res, err := s.predictor.Predict(features)
	if err != nil {
		return res, err
	}
	if s.store != nil {
		if err := s.store.RecordPrediction(ctx, res); err != nil {
			s.log.Warn("prediction not recorded", zap.Error(err))
		}
	}
	return res, nil
}

// Runs lists recorded runs, newest first. Without a store it returns an
// empty list.
func (s *Service) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if s.store == nil {
		return []store.RunRecord{}, nil
	}
	return s.store.Runs(ctx, limit)
}

// SummarizeModel writes the architecture of the served model to w.
func (s *Service) SummarizeModel(w io.Writer) error {
	m := s.predictor.Model()
	if m == nil {
		return ErrModelNotTrained
	}
	m.Summary(w)
	return nil
}
