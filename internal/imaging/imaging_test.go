package imaging

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"firewatch/internal/model"
)

func TestNameRoundTrip(t *testing.T) {
	name := EncodeName("ridge-west-1", 1700000123)
	cam, ts, err := ParseName(name)
	if err != nil {
		t.Fatalf("parse %q: %v", name, err)
	}
	if cam != "ridge-west-1" || ts != 1700000123 {
		t.Fatalf("round trip mismatch: %s %d", cam, ts)
	}

	diff := DiffName("ridge-west-1", 1700000123, 5)
	cam, ts, err = ParseName(diff)
	if err != nil {
		t.Fatalf("parse diff %q: %v", diff, err)
	}
	if cam != "ridge-west-1" || ts != 1700000123 {
		t.Fatalf("diff round trip mismatch: %s %d", cam, ts)
	}
}

func TestParseNameMalformed(t *testing.T) {
	for _, name := range []string{
		"noextension",
		"missing-separator.jpg",
		"cam__notanumber.jpg",
		"__1700000123.jpg",
	} {
		if _, _, err := ParseName(name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestAnnotatedName(t *testing.T) {
	name := EncodeName("camA", 1700000123)
	annotated := AnnotatedName(name)
	if !IsAnnotated(annotated) {
		t.Fatalf("annotated name %q not recognized", annotated)
	}
	if IsAnnotated(name) {
		t.Fatalf("plain frame name %q misclassified as annotated", name)
	}
}

func writeTestJPEG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	if err := saveJPEG(img, path); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
}

func TestDiffIdenticalFramesIsMidGray(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	out := filepath.Join(dir, "out.jpg")
	writeTestJPEG(t, a, 64, 48, color.RGBA{120, 120, 120, 255})
	writeTestJPEG(t, b, 64, 48, color.RGBA{120, 120, 120, 255})

	if err := Diff(a, b, out); err != nil {
		t.Fatalf("diff: %v", err)
	}
	img, err := loadJPEG(out)
	if err != nil {
		t.Fatalf("load diff: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("diff bounds: %v", img.Bounds())
	}
	r, _, _, _ := img.At(32, 24).RGBA()
	v := int(r >> 8)
	if v < 118 || v > 138 {
		t.Fatalf("identical frames should diff near mid-gray, got %d", v)
	}
}

func TestDiffRejectsMismatchedSizes(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	writeTestJPEG(t, a, 64, 48, color.RGBA{120, 120, 120, 255})
	writeTestJPEG(t, b, 32, 48, color.RGBA{120, 120, 120, 255})
	if err := Diff(a, b, filepath.Join(dir, "out.jpg")); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestAnnotateWritesScoreFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, EncodeName("camA", 1700000123))
	writeTestJPEG(t, src, 100, 100, color.RGBA{40, 80, 40, 255})

	out, err := Annotate(src, model.Segment{MinX: 10, MinY: 10, MaxX: 50, MaxY: 50, Score: 0.9}, 0.5)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if !IsAnnotated(filepath.Base(out)) {
		t.Fatalf("annotate output %q lacks score suffix", out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("annotated file missing: %v", err)
	}
}

func TestCropSegment(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, EncodeName("camA", 1700000123))
	writeTestJPEG(t, src, 100, 100, color.RGBA{40, 80, 40, 255})

	out, err := CropSegment(src, dir, model.Segment{MinX: 10, MinY: 20, MaxX: 50, MaxY: 40})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	img, err := loadJPEG(out)
	if err != nil {
		t.Fatalf("load crop: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("crop size: %v", img.Bounds())
	}
}

func TestSessionLifecycle(t *testing.T) {
	sess, err := NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	path := sess.Path("x.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write in session dir: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(sess.Dir()); !os.IsNotExist(err) {
		t.Fatalf("session dir survived close")
	}
}
