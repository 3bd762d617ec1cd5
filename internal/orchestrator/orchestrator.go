// Package orchestrator implements the compilation orchestrator (component
// I): per-source fan-out through the caching downloader and transformation
// pipeline, merge in configuration order, list-wide pass, global
// inclusion/exclusion, header/checksum emission, a request-deduplication
// fence, and a result cache — overlapping requests for the same
// configuration share one in-flight compile and its result.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/blockforge/compiler/internal/cachedl"
	"github.com/blockforge/compiler/internal/config"
	"github.com/blockforge/compiler/internal/errtax"
	"github.com/blockforge/compiler/internal/fetch"
	"github.com/blockforge/compiler/internal/pipeline"
	"github.com/blockforge/compiler/internal/store"
	"github.com/blockforge/compiler/internal/xlog"
)

// DefaultWorkerCap is the per-compilation source fan-out concurrency limit.
const DefaultWorkerCap = 8

// DefaultResultCacheTTL is how long a completed CompilationResult is served
// from cache before a fresh compile runs.
const DefaultResultCacheTTL = time.Hour

// CompilerName/CompilerVersion stamp the header's "Compiled by" line and
// feed the fingerprint.
const (
	CompilerName    = "blockforge-compiler"
	CompilerVersion = "1.0.0"
)

var compileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name: "compile_duration_seconds",
	Help: "Wall-clock duration of a full compilation, cache hits included.",
})

var compileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "compile_total",
	Help: "Completed compilations by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(compileDuration, compileTotal)
}

// Options configures an Orchestrator instance (the "configuration surface
// to the caller" of §6).
type Options struct {
	WorkerCap       int
	SourceCacheTTL  time.Duration
	ResultCacheTTL  time.Duration
	Platform        string
	IncludeMaxDepth int
	// PreFetched lets callers (notably tests) supply "mem://<key>" source
	// content without any network or filesystem access.
	PreFetched map[string]string
	// Archive, when set, receives a write-through copy of every successful
	// compilation's result and metadata, for durability beyond the primary
	// adapter's retention window (e.g. store.NewS3Adapter). Archive writes
	// are best-effort: failures are logged, never surfaced to the caller.
	Archive store.Adapter
}

func (o Options) workerCap() int {
	if o.WorkerCap > 0 {
		return o.WorkerCap
	}
	return DefaultWorkerCap
}

func (o Options) resultCacheTTL() time.Duration {
	if o.ResultCacheTTL > 0 {
		return o.ResultCacheTTL
	}
	return DefaultResultCacheTTL
}

// CompilationResult is the outcome of one compile (§3).
type CompilationResult struct {
	Success         bool     `json:"success"`
	Rules           []string `json:"rules,omitempty"`
	RuleCount       int      `json:"rule_count,omitempty"`
	Checksum        string   `json:"checksum,omitempty"`
	CompiledAt      int64    `json:"compiled_at"`
	PreviousVersion string   `json:"previous_version,omitempty"`
	Cached          bool     `json:"cached"`
	Deduplicated    bool     `json:"deduplicated"`
	Error           string   `json:"error,omitempty"`
	Diagnostics     []string `json:"diagnostics,omitempty"`
	DurationMS      int64    `json:"duration_ms,omitempty"`
}

// Orchestrator runs compilations against a shared storage adapter.
type Orchestrator struct {
	adapter    store.Adapter
	downloader *cachedl.Downloader
	opts       Options
	fence      singleflight.Group
}

// New constructs an Orchestrator backed by adapter.
func New(adapter store.Adapter, opts Options) *Orchestrator {
	return &Orchestrator{
		adapter:    adapter,
		downloader: cachedl.New(adapter),
		opts:       opts,
	}
}

func resultKey(fp string) store.Key { return store.Key{"results", "compile", fp} }

// Compile runs the full compilation algorithm of §4.5, emitting events via
// emit (nil is a valid no-op sink).
func (o *Orchestrator) Compile(ctx context.Context, cfg config.Configuration, emit EmitFunc) (CompilationResult, error) {
	start := time.Now()

	if err := config.Validate(cfg); err != nil {
		compileTotal.WithLabelValues("configuration_error").Inc()
		return CompilationResult{}, errtax.New(errtax.Configuration, "orchestrator.Compile", err)
	}

	fp := fingerprint(cfg, CompilerVersion)
	emit.emit(EventCompileStarted, map[string]interface{}{"config_name": cfg.Name, "fingerprint": fp})

	if cached, ok, err := o.loadCachedResult(ctx, fp); err == nil && ok {
		emit.emit(EventCacheHit, map[string]interface{}{"fingerprint": fp})
		compileTotal.WithLabelValues("cache_hit").Inc()
		compileDuration.Observe(time.Since(start).Seconds())
		return cached, nil
	}
	emit.emit(EventCacheMiss, map[string]interface{}{"fingerprint": fp})

	ranHere := false
	v, err, shared := o.fence.Do(fp, func() (interface{}, error) {
		ranHere = true
		return o.runCompile(ctx, cfg, emit)
	})
	if err != nil {
		compileTotal.WithLabelValues("error").Inc()
		return CompilationResult{}, err
	}
	result := v.(CompilationResult)
	result.Deduplicated = shared && !ranHere
	result.DurationMS = time.Since(start).Milliseconds()

	compileDuration.Observe(time.Since(start).Seconds())
	compileTotal.WithLabelValues("success").Inc()
	return result, nil
}

func (o *Orchestrator) loadCachedResult(ctx context.Context, fp string) (CompilationResult, bool, error) {
	var cr CompilationResult
	_, ok, err := o.adapter.Get(ctx, resultKey(fp), &cr)
	if err != nil || !ok {
		return CompilationResult{}, false, err
	}
	cr.Cached = true
	return cr, true, nil
}

// sourceOutcome is one source's fan-out result, collected in config order
// regardless of completion order.
type sourceOutcome struct {
	lines []string
	err   error
}

func (o *Orchestrator) runCompile(ctx context.Context, cfg config.Configuration, emit EmitFunc) (CompilationResult, error) {
	outcomes := make([]sourceOutcome, len(cfg.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.workerCap())
	for i, sc := range cfg.Sources {
		i, sc := i, sc
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			emit.emit(EventSourceStart, map[string]interface{}{"name": sc.Name, "source": sc.Source})
			lines, err := o.compileSource(gctx, sc, emit)
			if err != nil {
				if !sc.Optional {
					emit.emit(EventSourceError, map[string]interface{}{"source": sc.Source, "error": err.Error()})
					return err
				}
				xlog.Warnf("orchestrator: optional source %q failed, continuing: %v", sc.Source, err)
				outcomes[i] = sourceOutcome{err: err}
				return nil
			}
			outcomes[i] = sourceOutcome{lines: lines}
			emit.emit(EventSourceDone, map[string]interface{}{"name": sc.Name, "source": sc.Source, "rule_count": len(lines)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			emit.emit(EventCompileCancelled, nil)
			return CompilationResult{}, errtax.New(errtax.Cancelled, "orchestrator.runCompile", ctx.Err())
		}
		return CompilationResult{}, errtax.New(errtax.SourceFetch, "orchestrator.runCompile", err)
	}

	var merged []string
	for i, sc := range cfg.Sources {
		if outcomes[i].err != nil {
			continue
		}
		merged = append(merged, sourceBlockHeader(sc)...)
		merged = append(merged, outcomes[i].lines...)
	}

	select {
	case <-ctx.Done():
		emit.emit(EventCompileCancelled, nil)
		return CompilationResult{}, errtax.New(errtax.Cancelled, "orchestrator.runCompile", ctx.Err())
	default:
	}

	var diagnostics []string
	emit.emit(EventTransformationStart, map[string]interface{}{"scope": "list"})
	merged = pipeline.Run(merged, cfg.Transformations, pipeline.Options{Diagnostics: &diagnostics})
	emit.emit(EventTransformationDone, map[string]interface{}{"scope": "list"})

	inclusions, err := loadPatternSources(cfg.Inclusions, cfg.InclusionsSources)
	if err != nil {
		return CompilationResult{}, errtax.New(errtax.Configuration, "orchestrator.runCompile", err)
	}
	exclusions, err := loadPatternSources(cfg.Exclusions, cfg.ExclusionsSources)
	if err != nil {
		return CompilationResult{}, errtax.New(errtax.Configuration, "orchestrator.runCompile", err)
	}
	merged = applyIncludeExclude(merged, inclusions, exclusions)

	now := time.Now()
	header := buildHeader(cfg, CompilerName, CompilerVersion, now)
	full := assembleOutput(header, merged)
	sum := checksum(append(append([]string{}, header...), merged...))

	result := CompilationResult{
		Success:     true,
		Rules:       full,
		RuleCount:   len(merged),
		Checksum:    sum,
		CompiledAt:  now.UnixMilli(),
		Diagnostics: diagnostics,
	}

	if err := o.adapter.Set(ctx, resultKey(fingerprint(cfg, CompilerVersion)), result, o.opts.resultCacheTTL()); err != nil {
		xlog.Warnf("orchestrator: storing result cache failed (non-fatal): %v", err)
	}
	meta := store.CompilationMetadata{
		ConfigName: cfg.Name,
		Timestamp:  now.UnixMilli(),
		Checksum:   sum,
		RuleCount:  len(merged),
	}
	if err := store.SaveCompilationMetadata(ctx, o.adapter, meta); err != nil {
		xlog.Warnf("orchestrator: storing compilation metadata failed (non-fatal): %v", err)
	}
	o.archive(ctx, cfg, result, meta)

	emit.emit(EventCompileComplete, map[string]interface{}{"rule_count": len(merged)})
	return result, nil
}

// archive write-throughs a completed compilation to the optional archival
// adapter. It never influences the compile's own outcome: failures here are
// logged and swallowed.
func (o *Orchestrator) archive(ctx context.Context, cfg config.Configuration, result CompilationResult, meta store.CompilationMetadata) {
	if o.opts.Archive == nil {
		return
	}
	if err := o.opts.Archive.Set(ctx, resultKey(fingerprint(cfg, CompilerVersion)), result, 0); err != nil {
		xlog.Warnf("orchestrator: archiving compilation result failed (non-fatal): %v", err)
	}
	if err := store.SaveCompilationMetadata(ctx, o.opts.Archive, meta); err != nil {
		xlog.Warnf("orchestrator: archiving compilation metadata failed (non-fatal): %v", err)
	}
}

func (o *Orchestrator) compileSource(ctx context.Context, sc config.SourceConfig, emit EmitFunc) ([]string, error) {
	out, err := o.downloader.Download(ctx, sc.Source, fetch.Options{
		Platform:        o.opts.Platform,
		IncludeMaxDepth: o.opts.IncludeMaxDepth,
		PreFetched:      o.opts.PreFetched,
	}, o.opts.SourceCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", sc.Source, err)
	}
	for _, d := range out.Diagnostics {
		emit.emit(EventDiagnostic, map[string]interface{}{"source": sc.Source, "message": d})
	}
	if out.FromCache {
		emit.emit(EventCacheHit, map[string]interface{}{"source": sc.Source})
	} else {
		emit.emit(EventCacheStore, map[string]interface{}{"source": sc.Source})
	}

	var diagnostics []string
	lines := pipeline.Run(out.Lines, sc.Transformations, pipeline.Options{Diagnostics: &diagnostics})
	for _, d := range diagnostics {
		emit.emit(EventDiagnostic, map[string]interface{}{"source": sc.Source, "message": d})
	}

	inclusions, err := loadPatternSources(sc.Inclusions, sc.InclusionsSources)
	if err != nil {
		return nil, err
	}
	exclusions, err := loadPatternSources(sc.Exclusions, sc.ExclusionsSources)
	if err != nil {
		return nil, err
	}
	lines = applyIncludeExclude(lines, inclusions, exclusions)
	return lines, nil
}
