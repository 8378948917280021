package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"firewatch/internal/model"
)

var (
	boxColor     = color.RGBA{255, 0, 0, 255}
	histColor    = color.RGBA{0, 0, 255, 255}
	boxThickness = 3
)

// Annotate writes a copy of the frame with the detected segment boxed in
// red, the segment score above the box center and the historical max below
// it. Returns the path of the annotated file, which sits next to the source
// with the _score suffix.
func Annotate(srcPath string, seg model.Segment, histMax float64) (string, error) {
	src, err := loadJPEG(srcPath)
	if err != nil {
		return "", fmt.Errorf("annotate: %w", err)
	}
	bounds := src.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)

	drawBox(rgba, seg, boxColor, boxThickness)
	centerX := (seg.MinX + seg.MaxX) / 2
	centerY := (seg.MinY + seg.MaxY) / 2
	drawLabel(rgba, centerX, centerY-4, fmt.Sprintf("%.2f", seg.Score), boxColor)
	drawLabel(rgba, centerX, centerY+12, fmt.Sprintf("%.2f", histMax), histColor)

	dir, name := filepath.Split(srcPath)
	outPath := filepath.Join(dir, AnnotatedName(name))
	if err := saveJPEG(rgba, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func drawBox(img *image.RGBA, seg model.Segment, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		for x := seg.MinX + t; x <= seg.MaxX-t && x < bounds.Max.X; x++ {
			if x < 0 {
				continue
			}
			setPixel(img, x, seg.MinY+t, c)
			setPixel(img, x, seg.MaxY-t, c)
		}
		for y := seg.MinY + t; y <= seg.MaxY-t && y < bounds.Max.Y; y++ {
			if y < 0 {
				continue
			}
			setPixel(img, seg.MinX+t, y, c)
			setPixel(img, seg.MaxX-t, y, c)
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}
