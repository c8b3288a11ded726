package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/pipeline"
)

var perimeterFlags = []cli.Flag{
	cli.StringFlag{Name: "fire", Usage: "fire number, used for file names and the table key"},
	cli.Float64Flag{Name: "lat", Value: 51.5, Usage: "latitude of the fire's reported location"},
	cli.Float64Flag{Name: "lon", Value: -121.6, Usage: "longitude of the fire's reported location"},
	cli.Float64Flag{Name: "size", Value: 90, Usage: "reported fire size in hectares"},
	cli.StringFlag{Name: "date", Value: "2021-08-23", Usage: "date of interest (YYYY-MM-DD)"},
	cli.IntFlag{Name: "date-range", Value: 14, Usage: "days of imagery before the date of interest"},
	cli.Float64Flag{Name: "cloud-cover", Value: 22.2, Usage: "maximum scene cloud cover in percent"},
	cli.StringFlag{Name: "output", Usage: "directory for the raster and vector files (default OUTPUT_DIR)"},
	cli.BoolFlag{Name: "persist", Usage: "also store the perimeter in the spatial database"},
}

func perimeterAction(c *cli.Context) error {
	fireNumber := c.String("fire")
	if fireNumber == "" {
		return errors.New("--fire is required")
	}
	date, err := domain.ParseDate(c.String("date"))
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	if c.Int("date-range") <= 0 {
		return errors.New("--date-range must be positive")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateImagery(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := newImagery(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	st, err := newStages(ctx, cfg, c.Bool("persist"), logger, metrics)
	defer st.close()
	if err != nil {
		return err
	}

	settings := pipeline.SettingsFromConfig(cfg)
	settings.DateRangeDays = c.Int("date-range")
	settings.CloudCover = c.Float64("cloud-cover")
	settings.SaveLocalCopies = true
	if out := c.String("output"); out != "" {
		settings.OutputDir = out
	}

	p := pipeline.New(nil, fetcher, newAreaCalculator(cfg), settings, logger, metrics, st.opts...)
	res := p.ProcessFire(ctx, domain.Fire{
		Number:       fireNumber,
		Status:       domain.StatusActive,
		SizeHectares: c.Float64("size"),
		Location:     domain.Point{Lon: c.Float64("lon"), Lat: c.Float64("lat")},
	}, date)

	if res.Outcome == domain.OutcomeFailed {
		return fmt.Errorf("%s: %s: %w", res.FireNumber, res.Reason, res.Err)
	}
	return nil
}
