package canvas

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"

	"github.com/khaledhikmat/vs-liveness/model"
	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

var (
	liveColor  = color.RGBA{R: 0x2e, G: 0xcc, B: 0x71, A: 0xff}
	spoofColor = color.RGBA{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff}
)

const (
	lineWidth    = 2
	labelHeight  = 20
	labelPadding = 4
	fontScale    = 0.5
)

type canvasService struct {
	doc display.IService
}

func New(doc display.IService) IService {
	return &canvasService{
		doc: doc,
	}
}

func (svc *canvasService) Capture(videoID string, canvasID string) (*Surface, error) {
	video, err := svc.doc.Video(videoID)
	if err != nil {
		return nil, err
	}
	cnv, err := svc.doc.Canvas(canvasID)
	if err != nil {
		return nil, err
	}

	frame, ok := video.CurrentFrame()
	if !ok {
		return nil, nil
	}
	size := frame.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, nil
	}

	if cnv.Size() != size {
		cnv.Resize(size.X, size.Y)
	}

	cnv.Update(func(pix *image.RGBA) {
		copyScaled(pix, frame)
	})

	return &Surface{CanvasID: canvasID, Size: cnv.Size(), canvas: cnv}, nil
}

func (svc *canvasService) Grab(videoID string) (image.Image, bool, error) {
	video, err := svc.doc.Video(videoID)
	if err != nil {
		return nil, false, err
	}

	frame, ok := video.CurrentFrame()
	if !ok || frame.Bounds().Dx() == 0 || frame.Bounds().Dy() == 0 {
		return nil, false, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, frame.Bounds().Dx(), frame.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return out, true, nil
}

func (svc *canvasService) DrawImage(canvasID string, img image.Image) (*Surface, error) {
	cnv, err := svc.doc.Canvas(canvasID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("no image to draw on #%s", canvasID)
	}

	size := img.Bounds().Size()
	cnv.Resize(size.X, size.Y)
	cnv.Update(func(pix *image.RGBA) {
		draw.Draw(pix, pix.Bounds(), img, img.Bounds().Min, draw.Src)
	})

	return &Surface{CanvasID: canvasID, Size: size, canvas: cnv}, nil
}

func (svc *canvasService) DrawLivenessBoxes(s *Surface, results []model.LivenessScore, threshold float64) {
	if s == nil || s.canvas == nil || len(results) == 0 {
		return
	}

	s.canvas.Update(func(pix *image.RGBA) {
		mat, err := gocv.ImageToMatRGBA(pix)
		if err != nil {
			lgr.Logger.Error("canvas.DrawLivenessBoxes", lgr.Err(err))
			return
		}
		defer mat.Close()

		for _, r := range results {
			c := spoofColor
			if r.Score >= threshold {
				c = liveColor
			}
			drawBox(&mat, r, c)
		}

		annotated, err := mat.ToImage()
		if err != nil {
			lgr.Logger.Error("canvas.DrawLivenessBoxes", lgr.Err(err))
			return
		}
		draw.Draw(pix, pix.Bounds(), annotated, annotated.Bounds().Min, draw.Src)
	})
}

func (svc *canvasService) Snapshot(canvasID string) (string, error) {
	cnv, err := svc.doc.Canvas(canvasID)
	if err != nil {
		return "", err
	}
	return cnv.ToDataURL()
}

func copyScaled(dst *image.RGBA, src image.Image) {
	if dst.Bounds().Size() == src.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// LivenessLabel formats a score as shown above each box.
func LivenessLabel(score float64) string {
	return fmt.Sprintf("%.1f%% live", score*100)
}

func drawBox(mat *gocv.Mat, r model.LivenessScore, c color.RGBA) {
	x1, y1 := int(math.Round(r.X1)), int(math.Round(r.Y1))
	x2, y2 := int(math.Round(r.X2)), int(math.Round(r.Y2))
	gocv.Rectangle(mat, image.Rect(x1, y1, x2, y2), c, lineWidth)

	label := LivenessLabel(r.Score)
	text := gocv.GetTextSize(label, gocv.FontHersheySimplex, fontScale, 1)

	// filled label background above the box, clamped to the top edge
	top := max(y1-labelHeight, 0)
	gocv.Rectangle(mat, image.Rect(x1, top, x1+text.X+labelPadding*2, top+labelHeight), c, -1)

	baseline := max(y1-5, 15)
	gocv.PutText(mat, label, image.Pt(x1+labelPadding, baseline), gocv.FontHersheySimplex, fontScale, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
}
