package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis"
	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/geometry"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

// FireSource lists the fires currently reported by the feed.
type FireSource interface {
	FetchFires(ctx context.Context) ([]domain.Fire, error)
}

// Imagery downloads the rasters for a scene to local files.
type Imagery interface {
	FetchClassification(ctx context.Context, scene domain.Scene, path string) error
	FetchPreview(ctx context.Context, scene domain.Scene, path string) error
}

// AreaEstimator measures the polygons stored in a vector file.
type AreaEstimator interface {
	FileArea(path string) (geometry.Area, error)
}

// Persister stores a perimeter read from a vector file.
type Persister interface {
	Persist(ctx context.Context, in postgis.PersistInput) error
}

// Archiver uploads a preview raster and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, fire string, dateOfInterest time.Time, localPath string) (string, error)
}

// EventPublisher announces a persisted perimeter.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.PerimeterEvent) error
}

// Locker grants exclusive per-key processing. ok is false when another owner holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Settings tune candidate selection and the per-fire stages.
type Settings struct {
	SizeThresholdHa    float64
	CloudCover         float64
	DateRangeDays      int
	BBoxMultiplier     float64
	GroundSampleMeters float64
	FetchRGB           bool
	SaveLocalCopies    bool
	OutputDir          string
	RunInterval        time.Duration
	// WorkDir is the parent of each fire's temporary directory. Empty uses os.TempDir.
	WorkDir string
}

// SettingsFromConfig copies the pipeline settings out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SizeThresholdHa:    cfg.SizeThresholdHa,
		CloudCover:         cfg.CloudCover,
		DateRangeDays:      cfg.DateRangeDays,
		BBoxMultiplier:     cfg.BBoxMultiplier,
		GroundSampleMeters: cfg.GroundSampleMeters,
		FetchRGB:           cfg.FetchRGB,
		SaveLocalCopies:    cfg.SaveLocalCopies,
		OutputDir:          cfg.OutputDir,
		RunInterval:        cfg.RunInterval,
	}
}

// Option attaches an optional stage to the pipeline.
type Option func(*Pipeline)

// WithPersister stores each perimeter in the spatial database.
func WithPersister(p Persister) Option {
	return func(pl *Pipeline) { pl.persister = p }
}

// WithArchiver uploads each preview raster to the object store.
func WithArchiver(a Archiver) Option {
	return func(pl *Pipeline) { pl.archiver = a }
}

// WithPublisher announces each persisted perimeter.
func WithPublisher(pub EventPublisher) Option {
	return func(pl *Pipeline) { pl.publisher = pub }
}

// WithLocker guards each fire and date with an exclusive lock.
func WithLocker(l Locker) Option {
	return func(pl *Pipeline) { pl.locker = l }
}

// Pipeline estimates burned-area perimeters for the active fires in the feed.
type Pipeline struct {
	source    FireSource
	imagery   Imagery
	area      AreaEstimator
	persister Persister
	archiver  Archiver
	publisher EventPublisher
	locker    Locker
	settings  Settings
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline. Persistence, archiving, publishing and locking are enabled through opts.
func New(source FireSource, imagery Imagery, area AreaEstimator, settings Settings, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	if settings.BBoxMultiplier <= 0 {
		settings.BBoxMultiplier = domain.DefaultBBoxMultiplier
	}
	if settings.GroundSampleMeters <= 0 {
		settings.GroundSampleMeters = domain.DefaultGroundSampleMeters
	}
	p := &Pipeline{
		source:   source,
		imagery:  imagery,
		area:     area,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has completed a run,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes RunOnce for today's date immediately and then every RunInterval
// until the context is cancelled. With a zero interval it runs once and returns the run error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"run_interval", p.settings.RunInterval,
		"size_threshold_ha", p.settings.SizeThresholdHa,
	)

	for {
		_, err := p.RunOnce(ctx, domain.Today())
		if p.settings.RunInterval <= 0 {
			return err
		}
		if err != nil && ctx.Err() == nil {
			p.logger.Error("run failed", "error", err)
		}
		if !sleepWithContext(ctx, p.settings.RunInterval) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunOnce fetches the feed and processes every eligible fire for dateOfInterest.
// Fires are processed sequentially and one fire's failure never stops the others.
// An error is returned only when the feed cannot be read or the context is cancelled.
func (p *Pipeline) RunOnce(ctx context.Context, dateOfInterest time.Time) (domain.RunReport, error) {
	date := domain.CivilDate(dateOfInterest)
	report := domain.RunReport{
		RunID:          uuid.NewString(),
		DateOfInterest: date,
		StartedAt:      domain.Now(),
	}
	logger := p.logger.With("run_id", report.RunID, "date_of_interest", domain.FormatDate(date))

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	fires, err := p.source.FetchFires(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch fires: %w", err)
	}
	report.Considered = len(fires)
	p.metrics.FiresConsidered.Add(float64(len(fires)))
	logger.Info("run started",
		"fires", len(fires),
		"candidates", len(domain.SelectCandidates(fires, p.settings.SizeThresholdHa)),
	)

	for _, fire := range fires {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var res domain.FireResult
		if fire.Eligible(p.settings.SizeThresholdHa) {
			res = p.processFire(ctx, fire, date, report.RunID, logger)
		} else {
			res = domain.Skipped(fire.Number, fire.SkipReason(p.settings.SizeThresholdHa))
		}
		p.record(logger, res)
		report.Results = append(report.Results, res)
	}

	report.FinishedAt = domain.Now()
	p.metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	p.metrics.LastRunSuccess.Set(float64(report.FinishedAt.Unix()))
	p.ready.Store(true)

	logger.Info("run complete",
		"considered", report.Considered,
		"succeeded", report.Count(domain.OutcomeSucceeded),
		"skipped", report.Count(domain.OutcomeSkipped),
		"failed", report.Count(domain.OutcomeFailed),
	)
	return report, nil
}

// ProcessFire runs every stage for a single fire, regardless of its status or size.
func (p *Pipeline) ProcessFire(ctx context.Context, fire domain.Fire, dateOfInterest time.Time) domain.FireResult {
	res := p.processFire(ctx, fire, domain.CivilDate(dateOfInterest), "", p.logger)
	p.record(p.logger, res)
	return res
}

func (p *Pipeline) record(logger *slog.Logger, res domain.FireResult) {
	p.metrics.FireResults.WithLabelValues(string(res.Outcome)).Inc()

	attrs := []any{"fire_number", res.FireNumber, "outcome", res.Outcome}
	switch res.Outcome {
	case domain.OutcomeFailed:
		logger.Error("fire failed", append(attrs, "reason", res.Reason, "error", res.Err)...)
	case domain.OutcomeSkipped:
		logger.Info("fire skipped", append(attrs, "reason", res.Reason)...)
	default:
		logger.Info("fire processed", append(attrs,
			"area_hectares", res.AreaHectares,
			"polygons", res.PolygonCount,
			"rgb_object_key", res.RGBObjectKey,
		)...)
	}
}

func (p *Pipeline) processFire(ctx context.Context, fire domain.Fire, date time.Time, runID string, logger *slog.Logger) domain.FireResult {
	logger = logger.With("fire_number", fire.Number)

	if p.locker != nil {
		release, ok, err := p.locker.Acquire(ctx, fire.Number+":"+domain.FormatDate(date))
		if err != nil {
			return domain.Failed(fire.Number, "lock unavailable", err)
		}
		if !ok {
			return domain.Skipped(fire.Number, "already being processed")
		}
		defer release()
	}

	box := domain.EstimateBoundingBox(fire.Location, fire.SizeHectares, p.settings.BBoxMultiplier)
	if box.IsDegenerate() {
		return domain.Skipped(fire.Number, "degenerate bounding box")
	}
	width, height := domain.PixelDimensions(box, p.settings.GroundSampleMeters)
	scene := domain.Scene{
		Box:         box,
		Width:       width,
		Height:      height,
		WindowStart: domain.WindowStart(date, p.settings.DateRangeDays),
		WindowDays:  p.settings.DateRangeDays,
		CloudCover:  p.settings.CloudCover,
	}
	logger.Debug("scene estimated", "box", box, "width", width, "height", height)

	dir, err := os.MkdirTemp(p.settings.WorkDir, "fire-"+safeName(fire.Number)+"-")
	if err != nil {
		return domain.Failed(fire.Number, "create working directory", err)
	}
	defer os.RemoveAll(dir)

	files := newFireFiles(dir, fire.Number, date)

	if err := p.stage("classification", func() error {
		return p.imagery.FetchClassification(ctx, scene, files.classification)
	}); err != nil {
		return domain.Failed(fire.Number, "classification raster unavailable", err)
	}

	havePreview := false
	if p.settings.FetchRGB {
		err := p.stage("preview", func() error {
			return p.imagery.FetchPreview(ctx, scene, files.preview)
		})
		if err != nil {
			logger.Warn("preview raster unavailable", "error", err)
		} else {
			havePreview = true
		}
	}

	var polygons int
	if err := p.stage("polygonize", func() error {
		n, err := geometry.PolygonizeFile(files.classification, files.vector)
		polygons = n
		return err
	}); err != nil {
		return domain.Failed(fire.Number, "polygonize", err)
	}
	if polygons == 0 {
		return domain.Skipped(fire.Number, "no polygons")
	}

	res := domain.FireResult{FireNumber: fire.Number, Outcome: domain.OutcomeSucceeded, PolygonCount: polygons}

	var areaHa *float64
	if err := p.stage("area", func() error {
		a, err := p.area.FileArea(files.vector)
		if err != nil {
			return err
		}
		areaHa = &a.Hectares
		res.AreaHectares = a.Hectares
		p.metrics.BurnedAreaHectares.Observe(a.Hectares)
		logger.Info("burned area estimated", "square_meters", a.SquareMeters, "hectares", a.Hectares, "epsg", a.EPSG)
		return nil
	}); err != nil {
		logger.Warn("area estimate failed", "error", err)
	}

	if p.archiver != nil && havePreview {
		err := p.stage("archive", func() error {
			key, err := p.archiver.Archive(ctx, fire.Number, date, files.preview)
			res.RGBObjectKey = key
			return err
		})
		if err != nil {
			logger.Warn("archive preview failed", "error", err)
			res.ArchiveErr = err
			res.RGBObjectKey = ""
		}
	}

	if p.settings.SaveLocalCopies {
		out := filepath.Join(p.settings.OutputDir, safeName(fire.Number))
		if err := files.copyTo(out, havePreview); err != nil {
			logger.Warn("save local copies failed", "dir", out, "error", err)
		} else {
			res.OutputDir = out
		}
	}

	if p.persister != nil {
		cloud := p.settings.CloudCover
		err := p.stage("persist", func() error {
			return p.persister.Persist(ctx, postgis.PersistInput{
				VectorPath:     files.vector,
				FireNumber:     fire.Number,
				DateOfInterest: date,
				Location:       fire.Location,
				DateRange:      p.settings.DateRangeDays,
				CloudCover:     &cloud,
				RGBObjectKey:   res.RGBObjectKey,
				AreaHectares:   areaHa,
			})
		})
		switch {
		case errors.Is(err, postgis.ErrNoPolygons):
			return domain.Skipped(fire.Number, "no polygons")
		case err != nil:
			return domain.Failed(fire.Number, "persist perimeter", err)
		}
	}

	if p.publisher != nil {
		event := domain.PerimeterEvent{
			FireNumber:     fire.Number,
			DateOfInterest: domain.FormatDate(date),
			Latitude:       fire.Location.Lat,
			Longitude:      fire.Location.Lon,
			DateRange:      p.settings.DateRangeDays,
			AreaHectares:   res.AreaHectares,
			PolygonCount:   polygons,
			RGBObjectKey:   res.RGBObjectKey,
			RunID:          runID,
			ProcessedAt:    domain.Now(),
		}
		if err := p.publisher.Publish(ctx, event); err != nil {
			logger.Warn("publish perimeter event failed", "error", err)
		}
	}

	return res
}

// stage times fn under the given stage label.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// fireFiles are the working files for one fire.
type fireFiles struct {
	classification string
	preview        string
	vector         string
}

func newFireFiles(dir, fire string, date time.Time) fireFiles {
	base := safeName(fire) + "_" + domain.FormatDate(date)
	return fireFiles{
		classification: filepath.Join(dir, base+"_fire.tif"),
		preview:        filepath.Join(dir, base+"_rgb.tif"),
		vector:         filepath.Join(dir, base+"_perimeter.geojson"),
	}
}

// copyTo copies the rasters, their world files and the vector file into dir.
func (f fireFiles) copyTo(dir string, withPreview bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	paths := []string{f.classification, raster.WorldFilePath(f.classification), f.vector}
	if withPreview {
		paths = append(paths, f.preview, raster.WorldFilePath(f.preview))
	}
	for _, src := range paths {
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// safeName makes a fire number usable as a file name.
func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "fire"
	}
	return s
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
