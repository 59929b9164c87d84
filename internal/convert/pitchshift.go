package convert

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"pitch-shifter/internal/domain"
)

// fallbackSampleRate is assumed when the source rate cannot be probed.
const fallbackSampleRate = 44100

// RateMultiplier converts a semitone shift to a playback-rate factor.
func RateMultiplier(semitones int) float64 {
	return math.Pow(2, float64(semitones)/12)
}

// buildPitchShiftArgs builds the transcoder invocation: the stream is
// rate-scaled by the semitone multiplier and then resampled back to the
// source rate, so duration scales with the shift instead of staying a
// plain speed change.
func buildPitchShiftArgs(inputPath, outputPath string, sampleRate, semitones int, format domain.OutputFormat) []string {
	shiftedRate := int(math.Round(float64(sampleRate) * RateMultiplier(semitones)))
	filter := fmt.Sprintf("asetrate=%d,aresample=%d", shiftedRate, sampleRate)

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-filter:a", filter,
		"-progress", "pipe:1",
		"-nostats",
	}
	args = append(args, codecArgs(format)...)
	return append(args, outputPath)
}

// codecArgs maps an output format to transcoder codec flags.
func codecArgs(format domain.OutputFormat) []string {
	switch format {
	case domain.FormatMP3:
		return []string{"-c:a", "libmp3lame", "-q:a", "2"}
	case domain.FormatWAV:
		return []string{"-c:a", "pcm_s16le"}
	case domain.FormatFLAC:
		return []string{"-c:a", "flac"}
	case domain.FormatAAC:
		return []string{"-c:a", "aac", "-b:a", "192k"}
	default:
		return nil
	}
}

// formatsMatch reports whether the input extension already matches the
// requested output format.
func formatsMatch(inputPath string, format domain.OutputFormat) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(inputPath), "."))
	return ext == string(format)
}

// classifyTranscoderFailure inspects the stderr tail for known failure
// signatures.
func classifyTranscoderFailure(stderrTail string) domain.ErrorKind {
	lower := strings.ToLower(stderrTail)
	switch {
	case strings.Contains(lower, "invalid data found when processing input"),
		strings.Contains(lower, "malformed"),
		strings.Contains(lower, "corrupt"):
		return domain.ErrKindCorruptInput
	case strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "unsupported"),
		strings.Contains(lower, "does not contain any stream"),
		strings.Contains(lower, "decoder not found"),
		strings.Contains(lower, "invalid argument"):
		return domain.ErrKindUnsupportedFormat
	default:
		return domain.ErrKindProcessFailure
	}
}
