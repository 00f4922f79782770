package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/data"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

// Processor runs one mode until its work is done or canxCtx is cancelled.
// args are the command line arguments following the mode name.
type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory, args []string) error

// App holds the controller and the optional features built for a mode.
// Document and Compare are nil when disabled by config.
type App struct {
	Svcs       pipeline.ServicesFactory
	Controller *pipeline.LivenessController
	Capture    *pipeline.PhotoCaptureFeature
	Document   *pipeline.DocumentFeature
	Compare    *pipeline.CompareFeature
}

func NewApp(svcs pipeline.ServicesFactory) (*App, error) {
	pipeline.RegisterElements(svcs.DisplaySvc, svcs.CfgSvc)

	capture, err := pipeline.NewPhotoCaptureFeature(svcs)
	if err != nil {
		return nil, err
	}

	app := &App{
		Svcs:       svcs,
		Controller: pipeline.NewLivenessController(svcs),
		Capture:    capture,
	}

	if svcs.CfgSvc.IsDocumentFlowEnabled() {
		app.Document, err = pipeline.NewDocumentFeature(svcs)
		if err != nil {
			return nil, err
		}
	}

	if svcs.CfgSvc.IsFaceComparisonEnabled() {
		app.Compare, err = pipeline.NewCompareFeature(svcs)
		if err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Close stops the controller and flushes the feature stats.
func (app *App) Close() {
	app.Controller.Stop()
	app.Capture.Close()
	if app.Document != nil {
		app.Document.Close()
	}
	if app.Compare != nil {
		app.Compare.Close()
	}
	app.Svcs.Sessions.Close()
}

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.ControllerStats:
		procControllerStats(datasvc, stats)
	case model.FeatureStats:
		procFeatureStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procControllerStats(datasvc data.IService, stats model.ControllerStats) {
	err := datasvc.NewControllerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store controller stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procFeatureStats(datasvc data.IService, stats model.FeatureStats) {
	err := datasvc.NewFeatureStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store feature stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
