package progress

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"pitch-shifter/internal/domain"
)

// maxLiveProgress caps parsed progress below 1.0; only job completion
// may report a finished fraction.
const maxLiveProgress = 0.99

var (
	downloadPercentRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	stderrTimeRe      = regexp.MustCompile(`\btime=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// Reporter normalizes tool-specific progress lines into a fraction in
// [0,1]. It understands transcoder -progress key=value output, the
// transcoder's stderr time= stats, and downloader percentage lines.
// Unparseable lines are ignored; the fraction never decreases.
type Reporter struct {
	mu           sync.Mutex
	totalSeconds float64
	current      float64
	onUpdate     func(float64)
}

// NewReporter creates a reporter. totalSeconds may be zero when the
// source duration is unknown; time-based lines are then ignored and
// only percentage lines advance progress.
func NewReporter(totalSeconds float64, onUpdate func(float64)) *Reporter {
	return &Reporter{
		totalSeconds: totalSeconds,
		current:      domain.ProgressIndeterminate,
		onUpdate:     onUpdate,
	}
}

// Observe consumes one output line from the running process.
func (r *Reporter) Observe(line string) {
	fraction, ok := r.parse(line)
	if !ok {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > maxLiveProgress {
		fraction = maxLiveProgress
	}

	r.mu.Lock()
	if fraction <= r.current {
		r.mu.Unlock()
		return
	}
	r.current = fraction
	update := r.onUpdate
	r.mu.Unlock()

	if update != nil {
		update(fraction)
	}
}

// Current returns the latest fraction, or ProgressIndeterminate when no
// line has parsed yet.
func (r *Reporter) Current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// parse extracts a progress fraction from one line.
func (r *Reporter) parse(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}

	if match := downloadPercentRe.FindStringSubmatch(line); match != nil {
		percent, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, false
		}
		return percent / 100, true
	}

	if seconds, ok := parseOutTime(line); ok {
		if r.totalSeconds <= 0 {
			return 0, false
		}
		return seconds / r.totalSeconds, true
	}

	if match := stderrTimeRe.FindStringSubmatch(line); match != nil {
		if r.totalSeconds <= 0 {
			return 0, false
		}
		seconds, ok := clockToSeconds(match[1], match[2], match[3])
		if !ok {
			return 0, false
		}
		return seconds / r.totalSeconds, true
	}

	return 0, false
}

// parseOutTime handles -progress key=value lines: out_time=HH:MM:SS.micro
// and out_time_us=N (microseconds).
func parseOutTime(line string) (float64, bool) {
	if value, ok := strings.CutPrefix(line, "out_time_us="); ok {
		micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || micros < 0 {
			return 0, false
		}
		return float64(micros) / 1e6, true
	}

	if value, ok := strings.CutPrefix(line, "out_time="); ok {
		parts := strings.SplitN(strings.TrimSpace(value), ":", 3)
		if len(parts) != 3 {
			return 0, false
		}
		return clockToSeconds(parts[0], parts[1], parts[2])
	}

	return 0, false
}

// clockToSeconds converts split HH, MM, SS.fraction fields to seconds.
func clockToSeconds(hh, mm, ss string) (float64, bool) {
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(ss, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}
