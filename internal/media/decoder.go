// -----------------------------------------------------------------------
// Decoder - Stream raw RGB frames out of a video via ffmpeg
// -----------------------------------------------------------------------

package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Decoder reads a video file frame by frame as raw rgb24 data.
// It wraps a long-lived ffmpeg subprocess writing to a pipe.
type Decoder struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	reader    *bufio.Reader
	stderr    bytes.Buffer
	width     int
	height    int
	frameSize int
	closed    bool
}

// DecodeArgs returns the ffmpeg argument list for decoding a source path
func DecodeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

// NewDecoder starts an ffmpeg process decoding the given video.
// Width and height must come from a prior Probe of the same file.
func NewDecoder(ctx context.Context, path string, width, height int) (*Decoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", DecodeArgs(path)...)

	d := &Decoder{
		cmd:       cmd,
		width:     width,
		height:    height,
		frameSize: width * height * 3,
	}
	cmd.Stderr = &d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	d.stdout = stdout
	d.reader = bufio.NewReaderSize(stdout, d.frameSize)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg decoder for %s: %w", path, err)
	}

	return d, nil
}

// ReadFrame reads the next frame. Returns io.EOF after the last frame.
func (d *Decoder) ReadFrame() (*Frame, error) {
	frame := NewFrame(d.width, d.height)

	n, err := io.ReadFull(d.reader, frame.Pix)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		// A short read means ffmpeg died mid-frame
		return nil, fmt.Errorf("truncated frame after %d bytes: %w (%s)", n, err, d.stderrText())
	}

	return frame, nil
}

// Close terminates the decoder process and reports decode failures.
// Safe to call after io.EOF; a clean exit returns nil.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	// Drain/close stdout first so ffmpeg is not blocked writing
	d.stdout.Close()

	if err := d.cmd.Wait(); err != nil {
		if msg := d.stderrText(); msg != "" {
			return fmt.Errorf("ffmpeg decoder exited with error: %w (%s)", err, msg)
		}
		// Broken pipe from closing stdout early is expected on abort
		return nil
	}
	return nil
}

func (d *Decoder) stderrText() string {
	return strings.TrimSpace(d.stderr.String())
}
