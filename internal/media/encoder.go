// -----------------------------------------------------------------------
// Encoder - Write annotated RGB frames into an mp4 via ffmpeg
// -----------------------------------------------------------------------

package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Encoder writes raw rgb24 frames into an H.264 mp4 file.
// It wraps an ffmpeg subprocess reading from a pipe.
type Encoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	writer    *bufio.Writer
	stderr    bytes.Buffer
	width     int
	height    int
	frameSize int
	closed    bool
}

// EncodeArgs returns the ffmpeg argument list for encoding to outPath
func EncodeArgs(outPath string, width, height int, fps float64) []string {
	return []string{
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	}
}

// NewEncoder starts an ffmpeg process encoding frames to outPath.
// Dimensions and fps must match the source so output plays back identically.
func NewEncoder(ctx context.Context, outPath string, width, height int, fps float64) (*Encoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %f", fps)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", EncodeArgs(outPath, width, height, fps)...)

	e := &Encoder{
		cmd:       cmd,
		width:     width,
		height:    height,
		frameSize: width * height * 3,
	}
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	e.stdin = stdin
	e.writer = bufio.NewWriterSize(stdin, e.frameSize)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder for %s: %w", outPath, err)
	}

	return e, nil
}

// WriteFrame writes one frame to the encoder
func (e *Encoder) WriteFrame(frame *Frame) error {
	if frame.Width != e.width || frame.Height != e.height {
		return fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.width, e.height)
	}
	if len(frame.Pix) != e.frameSize {
		return fmt.Errorf("frame buffer size %d, expected %d", len(frame.Pix), e.frameSize)
	}

	if _, err := e.writer.Write(frame.Pix); err != nil {
		return fmt.Errorf("failed to write frame: %w (%s)", err, e.stderrText())
	}
	return nil
}

// Close flushes remaining frames, waits for ffmpeg to finish the file,
// and surfaces any encode failure.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	flushErr := e.writer.Flush()
	closeErr := e.stdin.Close()
	waitErr := e.cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("ffmpeg encoder exited with error: %w (%s)", waitErr, e.stderrText())
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush encoder: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close encoder pipe: %w", closeErr)
	}
	return nil
}

// Abort terminates the encoder without finalizing the output file.
// Used when a job is cancelled mid-video.
func (e *Encoder) Abort() {
	if e.closed {
		return
	}
	e.closed = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
}

func (e *Encoder) stderrText() string {
	return strings.TrimSpace(e.stderr.String())
}
