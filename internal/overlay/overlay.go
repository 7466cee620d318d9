// Package overlay implements the Intro/Outro Overlay (spec §4.K): prepends
// and appends still-image segments rendered from a ThumbnailLayout, each
// crossfading into the body video.
package overlay

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/churchcast/reelforge/internal/models"
)

// crossfadeSeconds matches spec §4.K "a 0.5s crossfade into the body".
const crossfadeSeconds = 0.5

// Overlay renders and splices intro/outro segments.
type Overlay struct{}

func New() *Overlay { return &Overlay{} }

// Apply prepends the intro (with text boxes composited) and appends the
// outro (background only, per spec §4.K "the same background image, without
// text"), each via a 0.5s crossfade. If both are disabled, bodyPath is
// returned unchanged (spec §4.K "If both disabled, the body is the final
// video").
func (o *Overlay) Apply(ctx context.Context, bodyPath string, layout *models.ThumbnailLayout, scratchDir, outputPath string) (string, error) {
	if layout == nil || (!layout.Intro.Enabled && !layout.Outro.Enabled) {
		return bodyPath, nil
	}

	current := bodyPath

	if layout.Intro.Enabled {
		introPath := filepath.Join(scratchDir, "intro.mp4")
		if err := renderStillSegment(ctx, layout.BackgroundImageURL, layout.TextBoxes, layout.Intro.DurationSeconds, introPath); err != nil {
			return "", fmt.Errorf("failed to render intro segment: %w", err)
		}
		merged := filepath.Join(scratchDir, "with_intro.mp4")
		if err := crossfadePrepend(ctx, introPath, current, layout.Intro.DurationSeconds, merged); err != nil {
			return "", fmt.Errorf("failed to crossfade intro: %w", err)
		}
		current = merged
	}

	if layout.Outro.Enabled {
		outroPath := filepath.Join(scratchDir, "outro.mp4")
		if err := renderStillSegment(ctx, layout.BackgroundImageURL, nil, layout.Outro.DurationSeconds, outroPath); err != nil {
			return "", fmt.Errorf("failed to render outro segment: %w", err)
		}
		if err := crossfadeAppend(ctx, current, outroPath, layout.Outro.DurationSeconds, outputPath); err != nil {
			return "", fmt.Errorf("failed to crossfade outro: %w", err)
		}
		current = outputPath
	} else if current != outputPath {
		if err := copyFile(ctx, current, outputPath); err != nil {
			return "", fmt.Errorf("failed to finalize output without outro: %w", err)
		}
		current = outputPath
	}

	return current, nil
}

// renderStillSegment produces a fixed-duration video from a background
// image, optionally compositing text boxes (spec §4.K "the text boxes
// composited onto the background" for intro; outro passes nil boxes).
func renderStillSegment(ctx context.Context, backgroundImagePath string, boxes []models.TextBox, durationSeconds float64, outputPath string) error {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1",
		models.NormalizedWidth, models.NormalizedHeight, models.NormalizedWidth, models.NormalizedHeight)

	for _, box := range boxes {
		if !box.Visible || box.Text == "" {
			continue
		}
		x := fmt.Sprintf("%s*%.4f", "w", box.XPercent/100)
		y := fmt.Sprintf("%s*%.4f", "h", box.YPercent/100)
		vf += fmt.Sprintf(",drawtext=text='%s':fontsize=%d:fontcolor=%s:x=%s-text_w/2:y=%s-text_h/2",
			escapeDrawtext(box.Text), box.FontSizePx, normalizeColor(box.Color), x, y)
	}

	args := []string{
		"-loop", "1",
		"-i", backgroundImagePath,
		"-t", fmt.Sprintf("%.3f", durationSeconds),
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-r", fmt.Sprintf("%d", models.NormalizedFPS),
		"-an",
		"-y",
		outputPath,
	}

	return runFFmpeg(ctx, args)
}

// crossfadePrepend joins introPath then bodyPath with a crossfade transition.
func crossfadePrepend(ctx context.Context, introPath, bodyPath string, introDuration float64, outputPath string) error {
	offset := introDuration - crossfadeSeconds
	if offset < 0 {
		offset = 0
	}
	filter := fmt.Sprintf("[0:v][1:v]xfade=transition=fade:duration=%.2f:offset=%.3f[vout]", crossfadeSeconds, offset)

	args := []string{
		"-i", introPath,
		"-i", bodyPath,
		"-filter_complex", filter,
		"-map", "[vout]",
		"-map", "1:a?",
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-y",
		outputPath,
	}
	return runFFmpeg(ctx, args)
}

// crossfadeAppend joins bodyPath then outroPath with a crossfade transition.
func crossfadeAppend(ctx context.Context, bodyPath, outroPath string, outroDuration float64, outputPath string) error {
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", bodyPath).Output()
	if err != nil {
		return fmt.Errorf("failed to probe body duration: %w", err)
	}
	bodyDuration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return fmt.Errorf("failed to parse body duration %q: %w", string(out), err)
	}
	offset := bodyDuration - crossfadeSeconds
	if offset < 0 {
		offset = 0
	}
	filter := fmt.Sprintf("[0:v][1:v]xfade=transition=fade:duration=%.2f:offset=%.3f[vout]", crossfadeSeconds, offset)
	_ = outroDuration

	args := []string{
		"-i", bodyPath,
		"-i", outroPath,
		"-filter_complex", filter,
		"-map", "[vout]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-y",
		outputPath,
	}
	return runFFmpeg(ctx, args)
}

func copyFile(ctx context.Context, src, dst string) error {
	args := []string{"-i", src, "-c", "copy", "-y", dst}
	return runFFmpeg(ctx, args)
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		":", "\\:",
		"'", "\\'",
		"%", "\\%",
	)
	return replacer.Replace(text)
}

func normalizeColor(color string) string {
	if color == "" {
		return "white"
	}
	return color
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (output: %s)", err, truncate(string(output), 2000))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
