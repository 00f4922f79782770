package mode

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/khaledhikmat/vs-liveness/pipeline"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

// console prints status lines, coloured by verdict.
type console struct {
	out   io.Writer
	live  *color.Color
	spoof *color.Color
	info  *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:   out,
		live:  color.New(color.FgGreen, color.Bold),
		spoof: color.New(color.FgRed, color.Bold),
		info:  color.New(color.FgCyan),
	}
}

func (c *console) print(source, message string) {
	painter := c.info
	switch {
	case strings.HasPrefix(message, "Live face"), strings.HasPrefix(message, "Match OK"):
		painter = c.live
	case strings.HasPrefix(message, "Spoof face"), strings.HasPrefix(message, "Faces do not match"):
		painter = c.spoof
	}
	fmt.Fprintf(c.out, "%s %-8s %s\n", time.Now().Format("15:04:05"), source, painter.Sprint(message))
}

// Liveness runs the live loop headless and prints every status change to the
// console until canxCtx is cancelled.
func Liveness(canxCtx context.Context, svcs pipeline.ServicesFactory, _ []string) error {
	app, err := NewApp(svcs)
	if err != nil {
		return err
	}
	defer app.Close()

	out := newConsole(os.Stdout)
	statusID := svcs.CfgSvc.GetLivenessElements().StatusID

	lines := make(chan string, 16)
	unsubscribe := svcs.DisplaySvc.Subscribe(func(e display.Event) {
		if e.ID != statusID || e.Property != "text" {
			return
		}
		text, _ := e.Value.(string)
		select {
		case lines <- text:
		default:
		}
	})
	defer unsubscribe()

	if err := app.Controller.Start(canxCtx); err != nil {
		return err
	}

	var last string
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"liveness mode context cancelled",
			)
			procStats(svcs.DataSvc, app.Controller.Stats())
			return nil

		case line := <-lines:
			// Repeated verdicts are printed once.
			if line == last {
				continue
			}
			last = line
			out.print("liveness", line)
		}
	}
}
