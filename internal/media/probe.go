// -----------------------------------------------------------------------
// Probe - Extract video properties via ffprobe
// -----------------------------------------------------------------------

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/visum/internal/models"
)

// ffprobeOutput mirrors the JSON shape of `ffprobe -of json`
type ffprobeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"` // Fractional, e.g. "30000/1001"
		NbFrames   string `json:"nb_frames"`    // Missing for some containers
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeArgs returns the ffprobe argument list for a source path
func ProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}
}

// Probe inspects a video file and returns its properties.
// A file ffprobe cannot open yields an error carrying ffprobe's stderr.
func Probe(ctx context.Context, path string) (*models.VideoMeta, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", ProbeArgs(path)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found in %s", path)
	}
	stream := out.Streams[0]

	fps, err := ParseFrameRate(stream.RFrameRate)
	if err != nil {
		return nil, fmt.Errorf("invalid frame rate %q in %s: %w", stream.RFrameRate, path, err)
	}

	meta := &models.VideoMeta{
		FPS:    fps,
		Width:  stream.Width,
		Height: stream.Height,
		Codec:  stream.CodecName,
	}

	if out.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			meta.Duration = time.Duration(secs * float64(time.Second))
		}
	}

	if stream.NbFrames != "" {
		if n, err := strconv.Atoi(stream.NbFrames); err == nil {
			meta.FrameCount = n
		}
	}
	// Some containers (mkv in particular) omit nb_frames - estimate from duration
	if meta.FrameCount == 0 && meta.Duration > 0 && fps > 0 {
		meta.FrameCount = int(math.Round(meta.Duration.Seconds() * fps))
	}

	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d in %s", meta.Width, meta.Height, path)
	}

	return meta, nil
}

// ParseFrameRate parses ffprobe's fractional frame rate ("30000/1001", "25/1")
func ParseFrameRate(rate string) (float64, error) {
	if rate == "" || rate == "0/0" {
		return 0, fmt.Errorf("empty frame rate")
	}

	parts := strings.SplitN(rate, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	if len(parts) == 1 {
		return num, nil
	}

	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, fmt.Errorf("zero denominator")
	}
	return num / den, nil
}
