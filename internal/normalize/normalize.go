// Package normalize implements the Clip Normalizer (spec §4.I): produces
// NormalizedClip-contract files from arbitrary MP4/MOV input, using the same
// ffmpeg subprocess-wrapping style as the rest of the pipeline's media layer.
package normalize

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/churchcast/reelforge/internal/models"
)

// Normalizer re-encodes clips to the NormalizedClip contract (spec §3, §4.I).
type Normalizer struct{}

func New() *Normalizer { return &Normalizer{} }

// Normalize produces a contract-conforming file at outputPath, trimmed to
// targetDurationSeconds. Pool clips are returned as-is in O(1) — the caller
// is responsible for recognizing AcquiredClip.FromPool and skipping this call
// entirely (spec §4.I "If the input is from the pre-normalized pool, it is
// returned as-is").
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outputPath string, targetDurationSeconds float64) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,fps=%d",
		models.NormalizedWidth, models.NormalizedHeight,
		models.NormalizedWidth, models.NormalizedHeight,
		models.NormalizedFPS,
	)

	args := []string{
		"-i", inputPath,
		"-t", strconv.FormatFloat(targetDurationSeconds, 'f', 3, 64),
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-g", strconv.Itoa(models.NormalizedFPS), // closed GOP at 1s boundaries
		"-an", // strip audio (spec §3 "audio stream absent or stripped")
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg normalize failed: %w (output: %s)", err, truncate(string(output), 2000))
	}

	return nil
}

// Probe runs ffprobe against a file and reports whether it already conforms
// to the NormalizedClip contract, letting the Composer pick the fast
// concat-demuxer path (spec §4.J, §8 "either all clips conform to the
// NormalizedClip contract ... or none of the fast-path assertions fire").
func (n *Normalizer) Probe(ctx context.Context, path string) (models.ClipProbe, error) {
	videoArgs := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,pix_fmt",
		"-of", "default=noprint_wrappers=1",
		path,
	}
	videoOut, err := exec.CommandContext(ctx, "ffprobe", videoArgs...).Output()
	if err != nil {
		return models.ClipProbe{}, fmt.Errorf("ffprobe video stream failed: %w", err)
	}

	audioArgs := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1",
		path,
	}
	audioOut, err := exec.CommandContext(ctx, "ffprobe", audioArgs...).Output()
	if err != nil {
		return models.ClipProbe{}, fmt.Errorf("ffprobe audio stream failed: %w", err)
	}

	probe := parseVideoProbeOutput(videoOut)
	probe.Path = path
	probe.HasAudio = len(audioOut) > 0
	return probe, nil
}

// parseVideoProbeOutput parses ffprobe's "key=value" per-line output for a
// single video stream.
func parseVideoProbeOutput(output []byte) models.ClipProbe {
	var probe models.ClipProbe
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for _, line := range lines {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		switch key {
		case "codec_name":
			probe.VideoCodec = value
		case "width":
			if w, err := strconv.Atoi(value); err == nil {
				probe.Width = w
			}
		case "height":
			if h, err := strconv.Atoi(value); err == nil {
				probe.Height = h
			}
		case "pix_fmt":
			probe.PixFmt = value
		case "r_frame_rate":
			probe.FPS = parseFrameRate(value)
		}
	}
	return probe
}

// parseFrameRate converts ffprobe's "30/1" rational frame rate into a float.
func parseFrameRate(value string) float64 {
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(value, 64)
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
