package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
)

// Diff renders the brightness difference between a current frame and an
// earlier one as a grayscale JPEG centered at mid-gray: unchanged pixels
// land at 128, brightening pulls toward white, darkening toward black.
// Static scene content (fixed haze, terrain) cancels out while a newly
// risen plume survives into the classified image.
func Diff(currentPath, earlierPath, outPath string) error {
	current, err := loadJPEG(currentPath)
	if err != nil {
		return fmt.Errorf("diff current frame: %w", err)
	}
	earlier, err := loadJPEG(earlierPath)
	if err != nil {
		return fmt.Errorf("diff earlier frame: %w", err)
	}
	bounds := current.Bounds()
	if bounds != earlier.Bounds() {
		return fmt.Errorf("diff frames differ in size: %v vs %v", bounds, earlier.Bounds())
	}

	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := current.At(x, y).RGBA()
			er, eg, eb, _ := earlier.At(x, y).RGBA()
			// 16-bit channel sums scaled back to 8-bit brightness
			cur := int((cr + cg + cb) / 3 >> 8)
			old := int((er + eg + eb) / 3 >> 8)
			v := 128 + (cur-old)/2
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Pix[out.PixOffset(x, y)] = uint8(v)
		}
	}
	return saveJPEG(out, outPath)
}

func loadJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func saveJPEG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
