package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"firewatch/internal/imaging"
	"firewatch/internal/model"
)

// ErrReplayDone signals that every usable file in the replay directory has
// been consumed.
var ErrReplayDone = errors.New("replay directory exhausted")

// replaySource walks a directory of previously captured frames in name order,
// standing in for live camera fetches. Annotated outputs from earlier runs
// are ignored so a replay can point at its own artifact directory.
type replaySource struct {
	dir   string
	files []string
	idx   int
}

func newReplaySource(dir string) (*replaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imaging.IsAnnotated(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return &replaySource{dir: dir, files: files}, nil
}

// Next copies the next decodable frame into the session dir so the cycle can
// delete its working copy without touching the replay directory. Files whose
// names do not carry a camera id and timestamp are skipped.
func (r *replaySource) Next(sess *imaging.Session, logger *slog.Logger) (model.ImageSample, error) {
	for r.idx < len(r.files) {
		name := r.files[r.idx]
		r.idx++
		cameraID, ts, err := imaging.ParseName(name)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping unparseable replay file", "name", name, "err", err)
			}
			continue
		}
		dest := sess.Path(name)
		if err := copyFile(filepath.Join(r.dir, name), dest); err != nil {
			return model.ImageSample{}, fmt.Errorf("stage replay frame %s: %w", name, err)
		}
		return model.ImageSample{CameraID: cameraID, Timestamp: ts, Path: dest}, nil
	}
	return model.ImageSample{}, ErrReplayDone
}

func (r *replaySource) Remaining() int {
	return len(r.files) - r.idx
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
