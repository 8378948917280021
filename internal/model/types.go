package model

import "time"

type Camera struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ImageSample is one captured frame, held only for the duration of a cycle.
type ImageSample struct {
	CameraID  string `json:"camera_id"`
	Timestamp int64  `json:"timestamp"`
	Path      string `json:"path"`
}

// Segment is a rectangular sub-region of a frame with a smoke/fire confidence
// score in [0,1], as returned by the classifier.
type Segment struct {
	MinX  int     `json:"min_x"`
	MinY  int     `json:"min_y"`
	MaxX  int     `json:"max_x"`
	MaxY  int     `json:"max_y"`
	Score float64 `json:"score"`
}

type ScoreRecord struct {
	CameraID     string  `json:"camera_id"`
	Timestamp    int64   `json:"timestamp"`
	Segment      Segment `json:"segment"`
	MinusMinutes int     `json:"minus_minutes"`
	SecondsInDay int     `json:"seconds_in_day"`
}

// SegmentStats is a historical aggregate for one exact bounding box.
type SegmentStats struct {
	MinX     int     `json:"min_x"`
	MinY     int     `json:"min_y"`
	MaxX     int     `json:"max_x"`
	MaxY     int     `json:"max_y"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
	MaxScore float64 `json:"max_score"`
}

// Detection is the single segment judged to be a genuine new smoke/fire
// occurrence, carrying the historical baseline it was judged against.
type Detection struct {
	CameraID    string  `json:"camera_id"`
	Timestamp   int64   `json:"timestamp"`
	Segment     Segment `json:"segment"`
	HistAvg     float64 `json:"hist_avg"`
	HistMax     float64 `json:"hist_max"`
	HistSamples int     `json:"hist_samples"`
	ImageRef    string  `json:"image_ref,omitempty"`
}

type AlertRecord struct {
	CameraID  string `json:"camera_id"`
	Timestamp int64  `json:"timestamp"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// SecondsInDay expresses local time of day as seconds since midnight. Used as
// a day-cyclic key for historical matching independent of calendar date.
func SecondsInDay(t time.Time) int {
	return (t.Hour()*60+t.Minute())*60 + t.Second()
}

func (s Segment) SameBox(o SegmentStats) bool {
	return s.MinX == o.MinX && s.MinY == o.MinY && s.MaxX == o.MaxX && s.MaxY == o.MaxY
}
