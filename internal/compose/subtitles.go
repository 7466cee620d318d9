package compose

import (
	"fmt"
	"os"
	"strings"

	"github.com/churchcast/reelforge/internal/models"
)

// ASS styling constants for the Composer's subtitle burn-in (spec §4.J
// "rendered as styled text (white, thin outline, bottom-center, with
// auto-wrap at ~40 characters)").
const (
	assFontName  = "Noto Sans"
	assFontSize  = 64
	assColorWhite = "&H00FFFFFF"
	assColorBlack = "&H00000000"
	assOutline    = 2
	assMarginV    = 80
)

// writeASSSubtitles renders the finalized SubtitleSegment list as an ASS file
// at outputPath (spec §4.J subtitle burn-in).
func writeASSSubtitles(segments []models.SubtitleSegment, outputPath string) (string, error) {
	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString(fmt.Sprintf("PlayResX: %d\n", models.NormalizedWidth))
	sb.WriteString(fmt.Sprintf("PlayResY: %d\n", models.NormalizedHeight))
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	sb.WriteString(fmt.Sprintf(
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,1,%d,0,2,40,40,%d,1\n\n",
		assFontName, assFontSize, assColorWhite, assColorWhite, assColorBlack, assColorBlack, assOutline, assMarginV,
	))

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, seg := range segments {
		text := wrapAt(seg.Text, subtitleWrapColumn)
		sb.WriteString(fmt.Sprintf(
			"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(seg.StartSeconds), formatASSTime(seg.EndSeconds), text,
		))
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return outputPath, nil
}

// wrapAt inserts ASS line breaks (\N) so no visual line exceeds width
// characters, breaking on word boundaries.
func wrapAt(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	var lines []string
	var current string
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if len(candidate) > width && current != "" {
			lines = append(lines, current)
			current = w
			continue
		}
		current = candidate
	}
	lines = append(lines, current)

	return strings.Join(lines, "\\N")
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC.
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalCentiseconds := int(seconds*100 + 0.5)
	centiseconds := totalCentiseconds % 100
	totalSeconds := totalCentiseconds / 100
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	mins := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, mins, secs, centiseconds)
}
