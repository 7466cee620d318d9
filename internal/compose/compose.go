// Package compose implements the Composer (spec §4.J): stitches slot clips
// into a body video, burning subtitles and mixing voice plus optional BGM,
// choosing between a fast stream-copy path and a slow filter-graph path.
package compose

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/churchcast/reelforge/internal/models"
)

// subtitleWrapColumn matches spec §4.J "auto-wrap at ~40 characters".
const subtitleWrapColumn = 40

// bgmDuckDB is the ducking applied to BGM under subtitle spans (spec §4.J
// "ducked by -6dB during subtitle spans").
const bgmDuckDB = -6.0

// Input bundles everything the Composer needs for one job (spec §4.J).
type Input struct {
	ClipPaths      []string // ordered, one per slot
	VoiceAudioPath string
	BGMPath        string  // empty if no BGM configured
	BGMGain        float64 // 0.0-0.5, applied before ducking
	Subtitles      []models.SubtitleSegment
	ScratchDir     string
	OutputPath     string
}

// Composer renders the body video.
type Composer struct{}

func New() *Composer { return &Composer{} }

// Compose decides fast vs. slow path per spec §4.J's decision rule and
// produces in.OutputPath.
func (c *Composer) Compose(ctx context.Context, in Input, probes []models.ClipProbe) error {
	if len(in.ClipPaths) != len(probes) {
		return fmt.Errorf("clip path count (%d) does not match probe count (%d)", len(in.ClipPaths), len(probes))
	}

	fastPath := allConform(probes)

	var visualPath string
	var err error
	if fastPath {
		visualPath, err = c.concatFast(ctx, in.ClipPaths, in.ScratchDir)
	} else {
		visualPath, err = c.concatSlow(ctx, in.ClipPaths, in.ScratchDir)
	}
	if err != nil {
		return fmt.Errorf("failed to build visual track: %w", err)
	}

	assPath, err := writeASSSubtitles(in.Subtitles, filepath.Join(in.ScratchDir, "subtitles.ass"))
	if err != nil {
		return fmt.Errorf("failed to render subtitle file: %w", err)
	}

	return c.finalMux(ctx, visualPath, assPath, in)
}

// allConform implements the §4.J / §8 decision rule: either every clip
// conforms and the fast path is chosen, or none of the fast-path assertions
// fire — there is no partial fast path.
func allConform(probes []models.ClipProbe) bool {
	for _, p := range probes {
		if !p.ConformsToContract() {
			return false
		}
	}
	return true
}

// concatFast writes a concat-demuxer playlist and stream-copies the clips
// (spec §4.J "writing a playlist manifest and invoking a stream-copy concat").
func (c *Composer) concatFast(ctx context.Context, clipPaths []string, scratchDir string) (string, error) {
	listPath := filepath.Join(scratchDir, "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, p := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", p)
	}
	f.Close()

	outputPath := filepath.Join(scratchDir, "visual_fast.mp4")
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	if err := runFFmpeg(ctx, args); err != nil {
		return "", fmt.Errorf("concat-demuxer stream copy failed: %w", err)
	}
	return outputPath, nil
}

// concatSlow re-encodes the full sequence through a filter-graph concat
// (spec §4.J "any non-conforming input forces a full filter-graph re-encode").
func (c *Composer) concatSlow(ctx context.Context, clipPaths []string, scratchDir string) (string, error) {
	args := []string{}
	var filterInputs strings.Builder
	for i, p := range clipPaths {
		args = append(args, "-i", p)
		fmt.Fprintf(&filterInputs, "[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,fps=%d[v%d];",
			i, models.NormalizedWidth, models.NormalizedHeight, models.NormalizedWidth, models.NormalizedHeight, models.NormalizedFPS, i)
	}
	for i := range clipPaths {
		fmt.Fprintf(&filterInputs, "[v%d]", i)
	}
	fmt.Fprintf(&filterInputs, "concat=n=%d:v=1:a=0[vout]", len(clipPaths))

	outputPath := filepath.Join(scratchDir, "visual_slow.mp4")
	args = append(args,
		"-filter_complex", filterInputs.String(),
		"-map", "[vout]",
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-y",
		outputPath,
	)

	if err := runFFmpeg(ctx, args); err != nil {
		return "", fmt.Errorf("filter-graph concat failed: %w", err)
	}
	return outputPath, nil
}

// finalMux burns subtitles, mixes voice and BGM, and writes the final output
// (spec §4.J "Audio mix" and "Subtitle burn-in").
func (c *Composer) finalMux(ctx context.Context, visualPath, assPath string, in Input) error {
	vf := fmt.Sprintf("ass='%s'", escapeFilterPath(assPath))

	args := []string{"-i", visualPath, "-i", in.VoiceAudioPath}

	var audioFilter string
	if in.BGMPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", in.BGMPath)
		audioFilter = fmt.Sprintf(
			"[1:a]volume=1.0[voice];[2:a]%s[bgm];[voice][bgm]amix=inputs=2:duration=first:dropout_transition=3[aout]",
			bgmVolumeExpr(in.Subtitles, in.BGMGain),
		)
	} else {
		audioFilter = "[1:a]volume=1.0[aout]"
	}

	args = append(args,
		"-vf", vf,
		"-filter_complex", audioFilter,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "faster",
		"-crf", "23",
		"-pix_fmt", models.NormalizedPixFmt,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-shortest",
		"-y",
		in.OutputPath,
	)

	if err := runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("final mux failed: %w", err)
	}
	return nil
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// bgmVolumeExpr builds the BGM volume envelope (spec §4.J "ducked by -6dB
// during subtitle spans"): fullGain everywhere the body has no subtitle
// span, duckedGain during one. With no subtitles at all (spec §8's
// silent-audio boundary case, "the job still composes a video ... with no
// burn-in"), BGM plays at fullGain for the whole body rather than ducked.
func bgmVolumeExpr(subtitles []models.SubtitleSegment, fullGain float64) string {
	if len(subtitles) == 0 {
		return fmt.Sprintf("volume=%.4f", fullGain)
	}

	duckedGain := fullGain * dbToLinear(bgmDuckDB)

	var spans strings.Builder
	for i, seg := range subtitles {
		if i > 0 {
			spans.WriteString("+")
		}
		fmt.Fprintf(&spans, "between(t,%.3f,%.3f)", seg.StartSeconds, seg.EndSeconds)
	}

	return fmt.Sprintf("volume=eval=frame:volume='if(%s,%.4f,%.4f)'", spans.String(), duckedGain, fullGain)
}

func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
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
