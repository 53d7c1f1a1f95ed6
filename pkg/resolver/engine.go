// Package resolver executes locator fallback chains against a backend and
// self-heals: whichever strategy resolved an element last time is tried
// first on the next resolve for the same device class.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/locator"
	"github.com/devicelab-dev/devicepool/pkg/metrics"
	"github.com/devicelab-dev/devicepool/pkg/retry"
)

const defaultBackoff = 150 * time.Millisecond

// Options configures an Engine. The zero value disables artifact capture
// and metrics; logging falls back to a no-op logger.
type Options struct {
	CacheSize int           // Hint cache capacity, default 256
	Backoff   time.Duration // Base delay between tries of one strategy, default 150ms
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	Artifacts core.ArtifactConfig
	Sink      core.ArtifactSink
}

// Engine resolves elements by walking their fallback chains.
type Engine struct {
	cache     *hintCache
	backoff   time.Duration
	log       *zap.Logger
	metrics   *metrics.Collector
	artifacts core.ArtifactConfig
	sink      core.ArtifactSink
}

// New creates a resolution engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = core.NullArtifactSink{}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Engine{
		cache:     newHintCache(opts.CacheSize),
		backoff:   backoff,
		log:       log,
		metrics:   opts.Metrics,
		artifacts: opts.Artifacts,
		sink:      sink,
	}
}

// Resolve walks the element's chain until a strategy produces a node. A
// cached hint for the same device class moves its strategy to the front of
// the walk without being retried later, so the strategy budget stays the
// chain length. Exhaustion returns a *ResolutionError carrying one Attempt
// per strategy tried; the Resolution trace is returned in every case.
func (e *Engine) Resolve(ctx context.Context, backend core.Backend, class string, el *locator.Element) (core.Node, *Resolution, error) {
	start := time.Now()
	res := &Resolution{Element: el.Key(), Class: class, Winner: -1}

	if err := el.Chain.Validate(); err != nil {
		return core.Node{}, finish(res, start), core.ErrChainInvalid.WithMessagef("element %s: %v", el.Key(), err)
	}

	order := e.planOrder(class, el, res)

	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			// The caller gave up. Report what was tried without claiming
			// the chain was exhausted.
			return core.Node{}, finish(res, start), fmt.Errorf("resolve %s interrupted: %w", el.Key(), err)
		}

		strat := el.Chain[idx]
		node, attempt := e.runStrategy(ctx, backend, strat)
		res.Attempts = append(res.Attempts, attempt)
		elapsed := time.Duration(attempt.ElapsedMS) * time.Millisecond

		if attempt.Error == "" {
			res.Resolved = true
			res.Winner = len(res.Attempts) - 1
			e.cache.Put(class, el.Key(), strat.Kind)
			e.metrics.RecordResolution(strat.Kind.String(), metrics.OutcomeOK, elapsed)
			e.metrics.RecordFallbackDepth(res.Winner)
			e.log.Debug("element resolved",
				zap.String("element", el.Key()),
				zap.String("class", class),
				zap.String("strategy", attempt.Strategy),
				zap.Int("depth", res.Winner),
				zap.Bool("hinted", res.HintUsed),
				zap.Int64("elapsedMs", attempt.ElapsedMS))
			return node, finish(res, start), nil
		}

		e.metrics.RecordResolution(strat.Kind.String(), metrics.OutcomeError, elapsed)
		e.log.Debug("strategy failed",
			zap.String("element", el.Key()),
			zap.String("strategy", attempt.Strategy),
			zap.Int("tries", attempt.Tries),
			zap.String("error", attempt.Error))
	}

	finish(res, start)
	e.captureFailure(ctx, backend, res)
	e.log.Warn("element not found",
		zap.String("element", el.Key()),
		zap.String("class", class),
		zap.Int("strategies", len(res.Attempts)),
		zap.Int64("elapsedMs", res.ElapsedMS))
	return core.Node{}, res, &ResolutionError{Element: el.Key(), Class: class, Attempts: res.Attempts}
}

// CacheLen returns the number of cached hints.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

// planOrder returns chain indices in execution order. A usable hint moves
// the first strategy of the hinted kind to the front; the rest keep chain
// order and the hinted index is not revisited. A hint whose kind no longer
// appears in the chain is ignored.
func (e *Engine) planOrder(class string, el *locator.Element, res *Resolution) []int {
	order := make([]int, 0, len(el.Chain))

	kind, ok := e.cache.Get(class, el.Key())
	e.metrics.RecordHintLookup(ok)
	if ok {
		res.HintKind = kind.String()
		for i, s := range el.Chain {
			if s.Kind == kind {
				order = append(order, i)
				res.HintUsed = true
				break
			}
		}
	}

	for i := range el.Chain {
		if res.HintUsed && i == order[0] {
			continue
		}
		order = append(order, i)
	}
	return order
}

// runStrategy executes one strategy under its own timeout and attempt
// budget. Tries within the strategy back off linearly.
func (e *Engine) runStrategy(ctx context.Context, backend core.Backend, s locator.Strategy) (core.Node, Attempt) {
	attempt := Attempt{Strategy: s.Describe(), Kind: s.Kind.String()}
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, s.EffectiveTimeout())
	defer cancel()

	policy := retry.Policy{
		MaxAttempts: s.EffectiveAttempts(),
		Delay:       e.backoff,
		Growth:      retry.GrowthLinear,
	}

	node, err := retry.DoValue(sctx, policy, func(c context.Context) (core.Node, error) {
		attempt.Tries++
		return e.locate(c, backend, s, &attempt)
	})
	attempt.ElapsedMS = time.Since(start).Milliseconds()

	if err != nil {
		attempt.Error = err.Error()
		return core.Node{}, attempt
	}

	node.Strategy = s.Kind
	if node.Confidence == 0 {
		node.Confidence = s.EffectiveConfidence()
	}
	return node, attempt
}

func (e *Engine) locate(ctx context.Context, backend core.Backend, s locator.Strategy, attempt *Attempt) (core.Node, error) {
	switch s.Kind {
	case locator.KindSemanticID:
		return backend.LocateID(ctx, s.ID)
	case locator.KindText:
		return backend.LocateText(ctx, *s.Text)
	case locator.KindRelative:
		return backend.LocateRelative(ctx, *s.Relative)
	case locator.KindImage:
		return backend.LocateTemplate(ctx, *s.Image)
	case locator.KindCoordinate:
		return e.locatePoint(ctx, backend, *s.Coordinate, attempt)
	default:
		return core.Node{}, fmt.Errorf("unknown strategy kind: %d", int(s.Kind))
	}
}

// locatePoint resolves a coordinate strategy locally. Percent points scale
// against the window size; absolute points are validated against it. The
// resulting node has no handle, actions on it go through raw coordinates.
func (e *Engine) locatePoint(ctx context.Context, backend core.Backend, c locator.Coordinate, attempt *Attempt) (core.Node, error) {
	w, h, err := backend.WindowSize(ctx)
	if err != nil {
		return core.Node{}, fmt.Errorf("window size: %w", err)
	}

	x, y := int(c.X), int(c.Y)
	if c.Percent {
		x = int(c.X * float64(w))
		y = int(c.Y * float64(h))
	}
	target := pointMark(x, y)
	attempt.Target = &target

	if x < 0 || y < 0 || x >= w || y >= h {
		return core.Node{}, fmt.Errorf("point (%d, %d) outside %dx%d screen", x, y, w, h)
	}
	return core.Node{Bounds: core.Bounds{X: x, Y: y, Width: 1, Height: 1}}, nil
}

// pointMark returns a small visible box around a tap point for annotation.
func pointMark(x, y int) core.Bounds {
	const r = 24
	return core.Bounds{X: x - r, Y: y - r, Width: 2 * r, Height: 2 * r}
}

// captureFailure stores a screenshot and the attempt trace through the
// artifact sink after an exhausted chain, when configured.
func (e *Engine) captureFailure(ctx context.Context, backend core.Backend, res *Resolution) {
	if !e.artifacts.CaptureOnResolveFailure {
		return
	}

	shot, err := backend.Screenshot(ctx)
	if err != nil {
		e.log.Debug("failure screenshot unavailable", zap.Error(err))
		return
	}
	if e.artifacts.AnnotateAttempts {
		if annotated, aerr := annotate(shot, res.Attempts); aerr == nil {
			shot = annotated
		} else {
			e.log.Debug("screenshot annotation failed", zap.Error(aerr))
		}
	}

	path, err := e.sink.Save(core.NewScreenshotAttachment(shot))
	if err != nil {
		e.log.Warn("failed to store failure screenshot", zap.Error(err))
		return
	}
	res.Screenshot = path

	if trace, merr := json.MarshalIndent(res, "", "  "); merr == nil {
		if _, serr := e.sink.Save(core.NewResolveTraceAttachment(trace)); serr != nil {
			e.log.Debug("failed to store resolve trace", zap.Error(serr))
		}
	}
}

func finish(res *Resolution, start time.Time) *Resolution {
	res.ElapsedMS = time.Since(start).Milliseconds()
	return res
}
