package media

import (
	"math"
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		rate    string
		want    float64
		wantErr bool
	}{
		{"25/1", 25, false},
		{"30000/1001", 29.97002997002997, false},
		{"24", 24, false},
		{"0/0", 0, true},
		{"", 0, true},
		{"x/1", 0, true},
		{"25/0", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFrameRate(tt.rate)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFrameRate(%q): expected error", tt.rate)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFrameRate(%q) failed: %v", tt.rate, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestProbeArgs(t *testing.T) {
	args := ProbeArgs("/videos/cam1.mp4")
	joined := strings.Join(args, " ")

	if args[len(args)-1] != "/videos/cam1.mp4" {
		t.Errorf("Expected source path as last argument, got %s", args[len(args)-1])
	}
	if !strings.Contains(joined, "-of json") {
		t.Error("Expected JSON output format")
	}
	if !strings.Contains(joined, "r_frame_rate") {
		t.Error("Expected frame rate in probed entries")
	}
}

func TestDecodeArgs(t *testing.T) {
	args := DecodeArgs("/videos/cam1.mp4")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i /videos/cam1.mp4") {
		t.Error("Expected source path as input")
	}
	if !strings.Contains(joined, "-pix_fmt rgb24") {
		t.Error("Expected rgb24 pixel format")
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("Expected stdout pipe output, got %s", args[len(args)-1])
	}
}

func TestEncodeArgs(t *testing.T) {
	args := EncodeArgs("/output/cam1_processed.mp4", 1920, 1080, 29.97)
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-s 1920x1080") {
		t.Error("Expected frame size argument")
	}
	if !strings.Contains(joined, "-r 29.97") {
		t.Error("Expected frame rate argument")
	}
	if !strings.Contains(joined, "-i pipe:0") {
		t.Error("Expected stdin pipe input")
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Error("Expected h264 encoder")
	}
	if args[len(args)-1] != "/output/cam1_processed.mp4" {
		t.Errorf("Expected output path as last argument, got %s", args[len(args)-1])
	}
}
