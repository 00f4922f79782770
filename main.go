package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-liveness/mode"
	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/camera"
	"github.com/khaledhikmat/vs-liveness/service/canvas"
	"github.com/khaledhikmat/vs-liveness/service/comparison"
	"github.com/khaledhikmat/vs-liveness/service/config"
	"github.com/khaledhikmat/vs-liveness/service/data"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/inference"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
	"github.com/khaledhikmat/vs-liveness/service/opencv"
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"server":   mode.Server,
	"liveness": mode.Liveness,
	"compare":  mode.Compare,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode. A missing .env file is fine.
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			lgr.Logger.Error("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
			panic("error loading .env file")
		}
	}

	modeType := "server"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
		args = args[1:]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Config service: defaults, then an optional yaml file, then env vars
	var cfgSvc config.IService = config.NewHardCoded()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		yamlSvc, err := config.NewYAML(path, cfgSvc)
		if err != nil {
			lgr.Logger.Error("error loading config file", slog.String("path", path), slog.Any("error", xerrors.New(err.Error())))
			panic("error loading config file")
		}
		cfgSvc = yamlSvc
	}
	cfgSvc = config.NewEnv(cfgSvc)

	svcs := newServices(cfgSvc)

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, args)
	}()

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"liveness app context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"liveness app mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
				canxFn()
				os.Exit(1)
			}
			canxFn()
			return
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are existing
resume:
	lgr.Logger.Info(
		"liveness app is waiting for all go routines to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"liveness app shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)

			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"liveness app mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			return
		}
	}
}

// newServices creates the services needed for the mode processors. The
// camera device and the model runtime are picked by config.
func newServices(cfgSvc config.IService) pipeline.ServicesFactory {
	// Display document
	doc := display.NewMemory()

	// Camera device
	var device camera.Device
	switch cfgSvc.GetCameraType() {
	case "opencv":
		device = opencv.NewDevice()
	case "random":
		device = camera.NewRandom()
	default:
		lgr.Logger.Warn("no camera device configured", slog.String("type", cfgSvc.GetCameraType()))
	}

	// Model runtime
	var rt inference.Runtime
	switch cfgSvc.GetRuntimeType() {
	case "fake":
		rt = inference.NewFake(doc)
	default:
		rt = opencv.NewRuntime(cfgSvc, doc)
	}
	gw := runtime.NewGateway(rt.Install(runtime.NewRegistry()))

	return pipeline.ServicesFactory{
		CfgSvc:     cfgSvc,
		DataSvc:    data.NewMemory(),
		DisplaySvc: doc,
		CameraSvc:  camera.New(doc, device),
		CanvasSvc:  canvas.New(doc),
		Runtime:    gw,
		Sessions:   runtime.NewSessionCache(),
		Gate:       pipeline.NewImageLibraryGate(gw),
		Store:      comparison.New(),
	}
}
