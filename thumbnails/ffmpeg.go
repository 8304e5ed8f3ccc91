package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegExtractor grabs video frames by running the ffmpeg binary
type FFmpegExtractor struct {
	// Binary is the ffmpeg executable name or path
	Binary string
	// Timeout bounds a single extraction; zero means no limit beyond ctx
	Timeout time.Duration
}

// NewFFmpegExtractor returns an extractor for binary, or nil when it cannot be
// found on the PATH (videos then have no preview).
func NewFFmpegExtractor(binary string, timeout time.Duration) *FFmpegExtractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil
	}
	return &FFmpegExtractor{Binary: binary, Timeout: timeout}
}

// ExtractFrame decodes the frame at offset at as a PNG piped over stdout
func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, localPath string, at time.Duration) (image.Image, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", localPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %s", at)
	}

	img, err := decodeBounded(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode extracted frame: %w", err)
	}
	return img, nil
}
