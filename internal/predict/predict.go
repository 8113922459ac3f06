// Package predict serves failure probabilities from the published model.
package predict

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/net"
)

// ErrModelNotTrained is returned before any model has been published.
var ErrModelNotTrained = errors.New("model not trained")

// RiskLevel buckets a failure probability.
type RiskLevel int

const (
	Low RiskLevel = iota
	Medium
	High
)

func (r RiskLevel) String() string {
	switch r {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// MarshalText encodes the level by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Classify maps a probability to a risk level: High above 0.5, Medium above
// 0.3, Low otherwise.
func Classify(p float64) RiskLevel {
	switch {
	case p > 0.5:
		return High
	case p > 0.3:
		return Medium
	default:
		return Low
	}
}

// Confidence is the distance of p from the decision boundary, scaled to [0,1].
func Confidence(p float64) float64 {
	return math.Abs(p-0.5) * 2
}

// Result is a single prediction.
type Result struct {
	Probability   float64          `json:"probability"`
	RiskLevel     RiskLevel        `json:"risk_level"`
	Confidence    float64          `json:"confidence"`
	InputFeatures dataset.Features `json:"input_features"`
	// ModelVersion identifies the published model that produced the result.
	ModelVersion uint64 `json:"model_version"`
}

type published struct {
	model   *net.Network
	version uint64
}

type cacheKey struct {
	version uint64
	bits    [dataset.NumFeatures]uint64
}

// Predictor holds the current Trained model. Publish and Predict are safe for
// concurrent use; readers always see a whole model.
type Predictor struct {
	current atomic.Pointer[published]
	version atomic.Uint64
	cache   *lru.Cache[cacheKey, Result]
	log     *zap.Logger
}

// Option configures a Predictor.
type Option func(*Predictor) error

// WithCache enables an LRU cache of up to size results. Zero disables it.
func WithCache(size int) Option {
	return func(p *Predictor) error {
		if size <= 0 {
			p.cache = nil
			return nil
		}
		c, err := lru.New[cacheKey, Result](size)
		if err != nil {
			return fmt.Errorf("predict: cache: %w", err)
		}
		p.cache = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Predictor) error {
		if log != nil {
			p.log = log
		}
		return nil
	}
}

// New creates a Predictor with no model.
func New(opts ...Option) (*Predictor, error) {
	p := &Predictor{log: zap.NewNop()}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Publish makes model the one served. It must be Trained and map the feature
// vector to a single probability.
func (p *Predictor) Publish(model *net.Network) error {
	if model == nil {
		return fmt.Errorf("predict: publish nil model: %w", ErrModelNotTrained)
	}
	if s := model.State(); s != net.Trained {
		return fmt.Errorf("predict: publish %s model: %w", s, ErrModelNotTrained)
	}
	if model.InputSize() != dataset.NumFeatures || model.OutputSize() != 1 {
		return fmt.Errorf("predict: model maps %d -> %d, want %d -> 1", model.InputSize(), model.OutputSize(), dataset.NumFeatures)
	}

	v := p.version.Add(1)
	p.current.Store(&published{model: model, version: v})
	p.log.Info("model published", zap.Uint64("version", v), zap.Int("params", model.NumParams()))
	return nil
}

// Ready reports whether a model has been published.
func (p *Predictor) Ready() bool {
	return p.current.Load() != nil
}

// Version returns the version of the served model, 0 when none.
func (p *Predictor) Version() uint64 {
	if cur := p.current.Load(); cur != nil {
		return cur.version
	}
	return 0
}

// Model returns the served model, or nil.
func (p *Predictor) Model() *net.Network {
	if cur := p.current.Load(); cur != nil {
		return cur.model
	}
	return nil
}

// Predict validates features and scores them with the served model.
func (p *Predictor) Predict(features []float64) (Result, error) {
	f, err := dataset.Validate(features)
	if err != nil {
		return Result{}, err
	}
	return p.PredictFeatures(f)
}

// PredictFeatures scores an already validated feature vector.
func (p *Predictor) PredictFeatures(f dataset.Features) (Result, error) {
	cur := p.current.Load()
	if cur == nil {
		return Result{}, ErrModelNotTrained
	}

	key := cacheKey{version: cur.version}
	if p.cache != nil {
		for i, v := range f {
			key.bits[i] = math.Float64bits(v)
		}
		if res, ok := p.cache.Get(key); ok {
			return res, nil
		}
	}

	out, err := cur.model.PredictOne(f[:])
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	prob := out[0]
	res := Result{
		Probability:   prob,
		RiskLevel:     Classify(prob),
		Confidence:    Confidence(prob),
		InputFeatures: f,
		ModelVersion:  cur.version,
	}
	if p.cache != nil {
		p.cache.Add(key, res)
	}
	return res, nil
}

// CacheLen returns the number of cached results.
func (p *Predictor) CacheLen() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}
