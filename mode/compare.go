package mode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/display"
)

var errCompareUsage = errors.New("usage: compare <document> <photo>")

// Compare analyzes a document image, takes a second image as the captured
// photo and prints the comparison verdict.
func Compare(canxCtx context.Context, svcs pipeline.ServicesFactory, args []string) error {
	if len(args) < 2 {
		return errCompareUsage
	}

	app, err := NewApp(svcs)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Document == nil || app.Compare == nil {
		return errors.New("document flow and face comparison must both be enabled")
	}

	out := newConsole(os.Stdout)
	cfgSvc := svcs.CfgSvc

	document, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	app.Document.SelectFile(filepath.Base(args[0]), document)
	if !app.Document.PreviewReady() {
		text, _ := svcs.DisplaySvc.Text(cfgSvc.GetDocumentElements().StatusID)
		return errors.New(text)
	}

	if err := app.Document.Analyze(canxCtx); err != nil {
		return err
	}
	text, _ := svcs.DisplaySvc.Text(cfgSvc.GetDocumentElements().StatusID)
	out.print("document", text)
	if svcs.Store.State().DocumentDetection == nil {
		return nil
	}

	photo, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}
	preview, err := svcs.DisplaySvc.Image(cfgSvc.GetPhotoCaptureElements().PreviewImageID)
	if err != nil {
		return err
	}
	dataURL := display.BytesToDataURL(photo)
	if err := preview.SetSource(dataURL); err != nil {
		return fmt.Errorf("loading photo: %w", err)
	}
	svcs.Store.SetCapturedPhoto(dataURL)

	if err := app.Compare.Compare(canxCtx); err != nil {
		return err
	}
	text, _ = svcs.DisplaySvc.Text(cfgSvc.GetComparisonElements().StatusID)
	out.print("compare", text)
	return nil
}
