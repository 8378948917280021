package imaging

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame files are named <cameraID>__<unixTime>.jpg so a frame remains
// traceable to its camera and capture time after it leaves the process.
// Diff frames append __d<minutes>, annotated frames append _score.

const (
	frameExt        = ".jpg"
	nameSep         = "__"
	annotatedSuffix = "_score"
)

func EncodeName(cameraID string, timestamp int64) string {
	return cameraID + nameSep + strconv.FormatInt(timestamp, 10) + frameExt
}

func DiffName(cameraID string, timestamp int64, minusMinutes int) string {
	return fmt.Sprintf("%s%s%d%sd%d%s", cameraID, nameSep, timestamp, nameSep, minusMinutes, frameExt)
}

func AnnotatedName(frameName string) string {
	base := strings.TrimSuffix(frameName, frameExt)
	return base + annotatedSuffix + frameExt
}

func IsAnnotated(name string) bool {
	return strings.HasSuffix(name, annotatedSuffix+frameExt)
}

// ParseName recovers camera and capture time from a frame or diff name.
func ParseName(name string) (cameraID string, timestamp int64, err error) {
	base := strings.TrimSuffix(name, frameExt)
	if base == name {
		return "", 0, fmt.Errorf("frame name %q: missing %s extension", name, frameExt)
	}
	parts := strings.Split(base, nameSep)
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("frame name %q: missing camera/timestamp separator", name)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("frame name %q: bad timestamp: %w", name, err)
	}
	if parts[0] == "" {
		return "", 0, fmt.Errorf("frame name %q: empty camera id", name)
	}
	return parts[0], ts, nil
}
