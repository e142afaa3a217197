package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// FrameSampler extracts stills from a recording at a fixed time interval.
type FrameSampler interface {
	Sample(ctx context.Context, recording []byte, interval time.Duration) ([][]byte, error)
}

// FFmpegSampler shells out to ffmpeg. The recording lands in a temp file,
// frames come back as numbered JPEGs.
type FFmpegSampler struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

func NewFFmpegSampler() *FFmpegSampler {
	return &FFmpegSampler{Binary: "ffmpeg"}
}

func (s *FFmpegSampler) Sample(ctx context.Context, recording []byte, interval time.Duration) ([][]byte, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	dir, err := os.MkdirTemp("", "yardguard-frames-*")
	if err != nil {
		return nil, fmt.Errorf("frame sampling temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "recording.mp4")
	if err := os.WriteFile(src, recording, 0o600); err != nil {
		return nil, fmt.Errorf("write recording: %w", err)
	}

	fps := 1.0 / interval.Seconds()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-q:v", "4",
		filepath.Join(dir, "frame_%04d.jpg"),
	}
	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction: %w (%s)", err, string(out))
	}

	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	frames := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read sampled frame: %w", err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}
