package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"strings"

	"firewatch/internal/model"
)

// CropSegment saves the segment's sub-region of the frame into destDir,
// named after the source frame and the box coordinates. Used by the
// training-data collector for positive-scoring segments.
func CropSegment(srcPath, destDir string, seg model.Segment) (string, error) {
	src, err := loadJPEG(srcPath)
	if err != nil {
		return "", fmt.Errorf("crop: %w", err)
	}
	rect := image.Rect(seg.MinX, seg.MinY, seg.MaxX, seg.MaxY).Intersect(src.Bounds())
	if rect.Empty() {
		return "", fmt.Errorf("crop: box %dx%dx%dx%d outside frame %v",
			seg.MinX, seg.MinY, seg.MaxX, seg.MaxY, src.Bounds())
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), src, rect.Min, draw.Src)

	base := strings.TrimSuffix(filepath.Base(srcPath), frameExt)
	name := fmt.Sprintf("%s_crop_%dx%dx%dx%d%s", base, seg.MinX, seg.MinY, seg.MaxX, seg.MaxY, frameExt)
	outPath := filepath.Join(destDir, name)
	if err := saveJPEG(out, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}
