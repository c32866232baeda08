package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/export"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"github.com/google/uuid"
)

// Exporter enforces the pixel cap and writes the output raster.
type Exporter interface {
	CheckCap(g domain.Grid) error
	Export(ctx context.Context, runID string, o domain.OutputRaster, approximate bool) (export.Result, error)
}

// ReportSink records completed runs.
type ReportSink interface {
	Record(ctx context.Context, report domain.RunReport) error
}

// Params are the inputs of one run.
type Params struct {
	AOI domain.AOI
	domain.RunParams
}

// Result is the outcome of a successful run. Warnings hold the recoverable
// conditions met along the way.
type Result struct {
	Output   domain.OutputRaster
	Stats    domain.PercentileStats
	Warnings []error
	Export   export.Result
	Report   domain.RunReport
}

// Pipeline builds the relative-yield graph and drives its two evaluations.
type Pipeline struct {
	engine     domain.RasterPipeline
	normalizer Normalizer
	exporter   Exporter
	sinks      []ReportSink
	logger     *slog.Logger
	metrics    *observability.Metrics
	latest     atomic.Pointer[Result]
}

// New creates a Pipeline. Reports of successful runs go to every sink.
func New(engine domain.RasterPipeline, normalizer Normalizer, exporter Exporter, logger *slog.Logger, metrics *observability.Metrics, sinks ...ReportSink) *Pipeline {
	return &Pipeline{
		engine:     engine,
		normalizer: normalizer,
		exporter:   exporter,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.latest.Load() == nil {
		return errors.New("no run has completed yet")
	}
	return nil
}

// Latest returns the most recent successful run.
func (p *Pipeline) Latest() (Result, bool) {
	r := p.latest.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// Run computes, exports and reports the relative-yield raster for params.
func (p *Pipeline) Run(ctx context.Context, params Params) (Result, error) {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	res, err := p.run(ctx, params)
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		p.logger.Error("run failed", "error", err, "duration", time.Since(start))
		return Result{}, err
	}
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.ObservedPixels.Set(float64(res.Output.Observed()))
	p.latest.Store(&res)

	p.logger.Info("run completed",
		"run_id", res.Report.RunID,
		"observed", res.Report.Observed,
		"p_low", res.Stats.Low,
		"p_high", res.Stats.High,
		"approximate", res.Stats.Approximate,
		"warnings", len(res.Warnings),
		"output", res.Export.URI,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, params Params) (Result, error) {
	scenes, err := SceneSource(domain.SceneFilter{
		AOI:                params.AOI,
		StartYear:          params.StartYear,
		EndYear:            params.EndYear,
		Months:             domain.MonthWindow{Start: time.Month(params.StartMonth), End: time.Month(params.EndMonth)},
		MaxCloudPercentage: params.CloudFilterThreshold,
	})
	if err != nil {
		return Result{}, err
	}
	if params.ClearScoreThreshold < 0 || params.ClearScoreThreshold > 1 {
		return Result{}, fmt.Errorf("clear score threshold %v out of range 0..1", params.ClearScoreThreshold)
	}

	region := domain.Region{AOI: params.AOI, CRS: params.OutputCRS, Scale: params.OutputScale}
	grid, err := region.Grid()
	if err != nil {
		return Result{}, fmt.Errorf("output grid: %w", err)
	}
	if err := p.exporter.CheckCap(grid); err != nil {
		return Result{}, err
	}
	p.logger.Info("run started",
		"crs", grid.CRS,
		"scale", grid.Scale,
		"width", grid.Width,
		"height", grid.Height,
		"years", fmt.Sprintf("%d-%d", params.StartYear, params.EndYear),
		"months", fmt.Sprintf("%d-%d", params.StartMonth, params.EndMonth),
	)

	composite := TemporalComposite(SpectralIndex(CloudMask(scenes, params.ClearScoreThreshold)), params.AOI)

	statsRaster, err := p.engine.Evaluate(ctx, p.normalizer.Percentiles(composite), region)
	if err != nil {
		return Result{}, fmt.Errorf("percentile reduction: %w", err)
	}
	stats, err := domain.StatsFromRaster(statsRaster)
	if err != nil {
		return Result{}, fmt.Errorf("percentile reduction: %w", err)
	}
	warnings := p.statsWarnings(stats)

	final, err := p.engine.Evaluate(ctx, p.normalizer.Rescale(composite, stats), region)
	if err != nil {
		return Result{}, fmt.Errorf("output raster: %w", err)
	}
	out, err := domain.OutputFromRaster(final)
	if err != nil {
		return Result{}, fmt.Errorf("output raster: %w", err)
	}

	runID := uuid.NewString()
	exported, err := p.exporter.Export(ctx, runID, out, stats.Approximate)
	if err != nil {
		return Result{}, err
	}

	report := domain.NewRunReport(runID, params.RunParams, stats, out, warnings)
	report.OutputURI = exported.URI
	p.publish(ctx, report)

	return Result{Output: out, Stats: stats, Warnings: warnings, Export: exported, Report: report}, nil
}

// statsWarnings lists the recoverable conditions the stats reveal.
func (p *Pipeline) statsWarnings(stats domain.PercentileStats) []error {
	var warnings []error
	if stats.Approximate {
		warnings = append(warnings, domain.ErrRegionTooLarge)
	}
	switch {
	case stats.Empty():
		warnings = append(warnings, domain.ErrEmptyInput)
	case stats.Degenerate():
		warnings = append(warnings, domain.ErrDegenerateRange)
	}
	for _, w := range warnings {
		p.metrics.RunWarnings.WithLabelValues(warningLabel(w)).Inc()
		p.logger.Warn("run warning", "warning", w, "p_low", stats.Low, "p_high", stats.High, "samples", stats.Samples)
	}
	return warnings
}

func warningLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, domain.ErrDegenerateRange):
		return "degenerate_range"
	case errors.Is(err, domain.ErrRegionTooLarge):
		return "region_too_large"
	default:
		return "other"
	}
}

// publish hands the report to every sink. A failing sink is logged and does not
// fail the run, whose raster is already written.
func (p *Pipeline) publish(ctx context.Context, report domain.RunReport) {
	for _, s := range p.sinks {
		if err := s.Record(ctx, report); err != nil {
			p.logger.Error("record run report failed", "run_id", report.RunID, "sink", fmt.Sprintf("%T", s), "error", err)
			continue
		}
		p.metrics.ReportsPublished.Inc()
	}
}

// LatestOutput returns the raster of the most recent successful run.
func (p *Pipeline) LatestOutput() (domain.OutputRaster, bool) {
	r, ok := p.Latest()
	return r.Output, ok
}
