package imageproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os/exec"
	"strconv"

	"collection-viewer/internal/logging"
)

// FFmpegAvailable reports whether frame extraction can work at all. Checked
// once at startup; video thumbnails are refused when false.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// frameSeekSeconds picks where in the video to grab the preview frame:
// one second in, or 10% of the duration for clips shorter than ten seconds,
// but never before 0.1s.
func frameSeekSeconds(duration float64) float64 {
	seek := 1.0
	if tenth := duration * 0.10; tenth < seek {
		seek = tenth
	}
	if seek < 0.1 {
		seek = 0.1
	}
	return seek
}

// probeDuration asks ffprobe for the container duration in seconds.
func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return 0, fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// ExtractVideoFrame grabs one representative frame from a video. The seek
// position comes from the probed duration; when probing fails, or seeking
// past the content fails, a second attempt extracts the first frame.
func ExtractVideoFrame(ctx context.Context, path string) (image.Image, error) {
	if !FFmpegAvailable() {
		return nil, fmt.Errorf("ffmpeg not found")
	}

	seek := 1.0
	if duration, err := probeDuration(ctx, path); err == nil {
		seek = frameSeekSeconds(duration)
	} else {
		logging.Debug("Duration probe failed for %s: %v, seeking to 1s", path, err)
	}

	img, err := runFrameExtract(ctx, path, fmt.Sprintf("%.2f", seek))
	if err == nil {
		return img, nil
	}
	logging.Debug("Frame extract at %.2fs failed for %s: %v, retrying from start", seek, path, err)

	img, err = runFrameExtract(ctx, path, "")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w", err)
	}
	return img, nil
}

func runFrameExtract(ctx context.Context, path, seek string) (image.Image, error) {
	args := []string{"-i", path}
	if seek != "" {
		args = append(args, "-ss", seek)
	}
	args = append(args,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", path)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

// decodeWithFFmpeg renders a single frame from a still image Go cannot
// decode (heic and friends). Same pipe contract as video extraction, no
// seeking.
func decodeWithFFmpeg(path string) (image.Image, error) {
	if !FFmpegAvailable() {
		return nil, fmt.Errorf("ffmpeg not found")
	}
	logging.Debug("Using ffmpeg to decode image: %s", path)

	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", path)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}
