package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/cache"
	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/explain"
	"github.com/ZanzyTHEbar/onset-explainer/internal/model"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

// ModelInfo identifies the model an explanation came from
type ModelInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
	Notice  string `json:"notice,omitempty"`
}

// Explanation is the full output for one record
type Explanation struct {
	Model      ModelInfo                 `json:"model"`
	Prediction decision.PredictionResult `json:"prediction"`
	Importance explain.Ranking           `json:"importance"`
	Waterfall  explain.Waterfall         `json:"waterfall"`

	Record   *schema.Record `json:"-"`
	CacheHit bool           `json:"-"`
}

// Predictor runs validate, attribute, decide and assemble for one record at
// a time. It is safe for concurrent use.
type Predictor struct {
	model     *model.Model
	info      ModelInfo
	explainer attribution.Explainer
	cache     cache.Store
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics

	mu         sync.RWMutex
	importance map[string]float64
}

// Option customises a Predictor
type Option func(*Predictor)

// WithCache stores explanations keyed by model version and record values
func WithCache(store cache.Store) Option {
	return func(p *Predictor) { p.cache = store }
}

// WithMetrics records stage timings and outcome counters
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(p *Predictor) { p.metrics = metrics }
}

// New creates a predictor for a built model
func New(m *model.Model, explainer attribution.Explainer, logger *monitoring.Logger, opts ...Option) (*Predictor, error) {
	if m == nil || explainer == nil {
		return nil, fmt.Errorf("pipeline needs a model and an explainer")
	}
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}

	p := &Predictor{
		model: m,
		info: ModelInfo{
			Name:    m.Manifest.Name,
			Title:   m.Manifest.Title,
			Version: m.Manifest.Version,
			Notice:  m.Manifest.Notice,
		},
		explainer: explainer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Model returns the model the predictor serves
func (p *Predictor) Model() *model.Model {
	return p.model
}

// Info returns the model identity
func (p *Predictor) Info() ModelInfo {
	return p.info
}

// Warm fetches the global importance once and checks it against the
// schema. Later calls are no-ops.
func (p *Predictor) Warm(ctx context.Context) error {
	_, err := p.globalImportance(ctx)
	return err
}

func (p *Predictor) globalImportance(ctx context.Context) (map[string]float64, error) {
	p.mu.RLock()
	imp := p.importance
	p.mu.RUnlock()
	if imp != nil {
		return imp, nil
	}

	ctx, span := monitoring.StartSpan(ctx, "pipeline.global_importance")
	start := time.Now()

	imp, err := p.explainer.GlobalImportance(ctx)
	if err == nil {
		// full ranking once, so a bad payload fails here and not per request
		if _, rankErr := p.model.Assembler.RankGlobalImportance(imp, p.model.Schema.Len()); rankErr != nil {
			if p.metrics != nil {
				p.metrics.IncrementContractViolation("importance_names")
			}
			// the names came from the attribution service, not the client
			err = errors.NewContractError("Global importance does not match the model schema", rankErr, nil)
		}
	}
	p.observe("importance", start)
	monitoring.EndSpan(span, err)
	if err != nil {
		p.countContractViolation(err)
		return nil, err
	}

	p.mu.Lock()
	if p.importance == nil {
		p.importance = imp
	}
	imp = p.importance
	p.mu.Unlock()

	p.logger.Info("Global importance loaded", "model", p.info.Name, "features", len(imp))
	return imp, nil
}

// Importance returns the first topN entries of the ascending global ranking.
// topN <= 0 uses the model's display default.
func (p *Predictor) Importance(ctx context.Context, topN int) (explain.Ranking, error) {
	imp, err := p.globalImportance(ctx)
	if err != nil {
		return nil, err
	}
	return p.model.Assembler.RankGlobalImportance(imp, topN)
}

// Predict explains one raw record. topN <= 0 uses the model's display default.
func (p *Predictor) Predict(ctx context.Context, raw map[string]any, topN int) (*Explanation, error) {
	if topN <= 0 {
		topN = p.model.Assembler.TopN()
	}

	ctx, span := monitoring.StartSpan(ctx, "pipeline.predict",
		attribute.String("model.name", p.info.Name),
		attribute.String("model.version", p.info.Version),
		attribute.Int("explain.top_n", topN),
	)
	var err error
	defer func() { monitoring.EndSpan(span, err) }()

	record, err := p.validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	key := p.cacheKey(record, topN)
	if cached := p.lookup(ctx, key); cached != nil {
		cached.Record = record
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	out, err := p.explain(ctx, record, topN)
	if err != nil {
		p.countContractViolation(err)
		return nil, err
	}

	p.store(ctx, key, out)
	if p.metrics != nil {
		p.metrics.RecordPrediction(p.info.Name, out.Prediction.Label)
	}
	span.SetAttributes(
		attribute.Int("prediction.class_index", out.Prediction.ClassIndex),
		attribute.Bool("cache.hit", false),
	)
	return out, nil
}

func (p *Predictor) validate(ctx context.Context, raw map[string]any) (*schema.Record, error) {
	_, span := monitoring.StartSpan(ctx, "pipeline.validate")
	start := time.Now()

	record, err := schema.Validate(raw, p.model.Schema)
	p.observe("validate", start)
	monitoring.EndSpan(span, err)

	if err != nil {
		feature, reason := rejection(err)
		p.logger.ValidationLogger(feature, reason)
		if p.metrics != nil {
			p.metrics.IncrementRejectedInput(reason)
		}
	}
	return record, err
}

func (p *Predictor) explain(ctx context.Context, record *schema.Record, topN int) (*Explanation, error) {
	attrCtx, span := monitoring.StartSpan(ctx, "pipeline.attribute")
	start := time.Now()
	result, err := p.explainer.Explain(attrCtx, record)
	p.observe("attribute", start)
	monitoring.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	prediction, err := p.decide(result)
	p.observe("decide", start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	waterfall, err := p.model.Assembler.BuildWaterfall(result.Set, prediction, record, topN)
	if err != nil {
		return nil, err
	}
	importance, err := p.Importance(ctx, topN)
	if err != nil {
		return nil, err
	}
	p.observe("assemble", start)

	return &Explanation{
		Model:      p.info,
		Prediction: prediction,
		Importance: importance,
		Waterfall:  waterfall,
		Record:     record,
	}, nil
}

func (p *Predictor) decide(result *attribution.Result) (decision.PredictionResult, error) {
	prediction, err := p.model.Engine.Decide(result.Set)
	if err != nil {
		return prediction, err
	}

	if result.Margins != nil {
		if err := decision.CheckAdditivity(result.Set, result.Margins, p.model.Manifest.Tolerance()); err != nil {
			return decision.PredictionResult{}, err
		}
	}

	if result.Probabilities != nil {
		if err := decision.CheckProbabilities(result.Probabilities, len(result.Set)); err != nil {
			return decision.PredictionResult{}, err
		}
		agrees := decision.AgreesWithNative(prediction, result.Probabilities)
		prediction.NativeAgrees = &agrees
		if !agrees {
			p.logger.NativeDisagreementLogger(p.info.Name, prediction.ClassIndex, decision.Argmax(result.Probabilities))
			if p.metrics != nil {
				p.metrics.IncrementNativeDisagreement()
			}
		}
	}
	return prediction, nil
}

func (p *Predictor) cacheKey(record *schema.Record, topN int) string {
	values := record.Values()
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return cache.Key([]byte(p.info.Name), []byte(p.info.Version), []byte(strconv.Itoa(topN)), buf)
}

func (p *Predictor) lookup(ctx context.Context, key string) *Explanation {
	if p.cache == nil {
		return nil
	}

	data, found, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Explanation cache lookup failed", "error", err)
	}
	if !found {
		if p.metrics != nil {
			p.metrics.IncrementCacheMiss()
		}
		return nil
	}

	var out Explanation
	if err := json.Unmarshal(data, &out); err != nil {
		p.logger.Warn("Discarding undecodable cached explanation", "error", err)
		_ = p.cache.Delete(ctx, key)
		return nil
	}
	if p.metrics != nil {
		p.metrics.IncrementCacheHit()
	}
	out.CacheHit = true
	return &out
}

func (p *Predictor) store(ctx context.Context, key string, out *Explanation) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		p.logger.Warn("Failed to encode explanation for cache", "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data); err != nil {
		p.logger.Warn("Explanation cache write failed", "error", err)
	}
}

func (p *Predictor) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, time.Since(start))
	}
}

func (p *Predictor) countContractViolation(err error) {
	if p.metrics == nil {
		return
	}
	if kind := contractKind(err); kind != "" {
		p.metrics.IncrementContractViolation(kind)
	}
}

func contractKind(err error) string {
	var (
		shape    *decision.ShapeMismatchError
		finite   *decision.NonFiniteAttributionError
		output   *decision.NonFiniteOutputError
		additive *decision.AdditivityError
		empty    *explain.EmptyAttributionError
	)
	switch {
	case stderrors.As(err, &shape):
		return "shape_mismatch"
	case stderrors.As(err, &finite):
		return "non_finite"
	case stderrors.As(err, &output):
		return "non_finite_output"
	case stderrors.As(err, &additive):
		return "additivity"
	case stderrors.As(err, &empty):
		return "empty_attribution"
	case stderrors.Is(err, attribution.ErrMalformedResponse):
		return "malformed_response"
	default:
		return ""
	}
}

func rejection(err error) (feature, reason string) {
	var (
		missing  *schema.MissingFeatureError
		unknown  *schema.UnknownFeatureError
		category *schema.InvalidCategoryError
		domain   *schema.DomainViolationError
	)
	switch {
	case stderrors.As(err, &missing):
		return missing.Feature, "missing_feature"
	case stderrors.As(err, &unknown):
		return unknown.Feature, "unknown_feature"
	case stderrors.As(err, &category):
		return category.Feature, "invalid_category"
	case stderrors.As(err, &domain):
		return domain.Feature, "domain_violation"
	default:
		return "", "invalid_input"
	}
}
