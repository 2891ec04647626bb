package models

import "time"

// Detection is a single detected object on a frame.
// Box coordinates are pixel positions on the source frame (x1,y1 top-left,
// x2,y2 bottom-right).
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"` // Resolved class name
}

// VideoMeta holds the probed properties of a source video
type VideoMeta struct {
	FPS        float64       `json:"fps"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameCount int           `json:"frame_count"`
	Duration   time.Duration `json:"duration"`
	Codec      string        `json:"codec"`
}

// VideoResult is the persisted outcome of a completed video_process job
type VideoResult struct {
	ID              string         `json:"id" badgerhold:"key"`
	JobID           string         `json:"job_id" badgerhold:"index"`
	SourcePath      string         `json:"source_path"`
	OutputPath      string         `json:"output_path"`
	Meta            VideoMeta      `json:"meta"`
	FramesProcessed int            `json:"frames_processed"`
	DetectionsTotal int            `json:"detections_total"`
	ClassCounts     map[string]int `json:"class_counts"` // Label -> detection count across all frames
	Elapsed         time.Duration  `json:"elapsed"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AddDetections updates the aggregate counters for one frame's detections
func (r *VideoResult) AddDetections(detections []Detection) {
	if r.ClassCounts == nil {
		r.ClassCounts = make(map[string]int)
	}
	r.DetectionsTotal += len(detections)
	for _, d := range detections {
		r.ClassCounts[d.Label]++
	}
}
