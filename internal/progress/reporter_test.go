package progress

import (
	"math"
	"testing"

	"pitch-shifter/internal/domain"
)

// TestReporterStartsIndeterminate checks the pre-parse state.
func TestReporterStartsIndeterminate(t *testing.T) {
	r := NewReporter(120, nil)
	if r.Current() != domain.ProgressIndeterminate {
		t.Fatalf("current = %v, want indeterminate", r.Current())
	}

	r.Observe("frame=  100 fps= 25")
	r.Observe("random tool chatter")
	if r.Current() != domain.ProgressIndeterminate {
		t.Fatalf("current = %v after unparseable lines, want indeterminate", r.Current())
	}
}

// TestReporterParsesTranscoderProgressKeys checks -progress output parsing.
func TestReporterParsesTranscoderProgressKeys(t *testing.T) {
	r := NewReporter(100, nil)

	r.Observe("out_time_us=25000000")
	if got := r.Current(); math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("current = %v, want 0.25", got)
	}

	r.Observe("out_time=00:00:50.000000")
	if got := r.Current(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("current = %v, want 0.5", got)
	}
}

// TestReporterParsesStderrTimeStats checks the time= stats fallback.
func TestReporterParsesStderrTimeStats(t *testing.T) {
	r := NewReporter(200, nil)
	r.Observe("size=    1024kB time=00:01:40.00 bitrate= 128.0kbits/s speed=9.8x")
	if got := r.Current(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("current = %v, want 0.5", got)
	}
}

// TestReporterParsesDownloaderPercent checks downloader percentage lines.
func TestReporterParsesDownloaderPercent(t *testing.T) {
	var updates []float64
	r := NewReporter(0, func(fraction float64) {
		updates = append(updates, fraction)
	})

	r.Observe("[download]  42.3% of 3.45MiB at 1.20MiB/s ETA 00:02")
	r.Observe("[download] 100% of 3.45MiB in 00:03")

	if got := r.Current(); math.Abs(got-0.99) > 1e-9 {
		t.Fatalf("current = %v, want live cap 0.99", got)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %v, want 2 entries", updates)
	}
	if math.Abs(updates[0]-0.423) > 1e-9 {
		t.Fatalf("first update = %v, want 0.423", updates[0])
	}
}

// TestReporterIsMonotonic checks progress never decreases.
func TestReporterIsMonotonic(t *testing.T) {
	var updates []float64
	r := NewReporter(100, func(fraction float64) {
		updates = append(updates, fraction)
	})

	r.Observe("out_time_us=60000000")
	r.Observe("out_time_us=30000000")
	r.Observe("out_time_us=60000000")
	r.Observe("out_time_us=90000000")

	if got := r.Current(); math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("current = %v, want 0.9", got)
	}
	if len(updates) != 2 {
		t.Fatalf("update count = %d, want 2 (monotonic filter)", len(updates))
	}
}

// TestReporterIgnoresTimeLinesWithoutDuration checks unknown-duration behavior.
func TestReporterIgnoresTimeLinesWithoutDuration(t *testing.T) {
	r := NewReporter(0, nil)
	r.Observe("out_time=00:00:10.000000")
	if r.Current() != domain.ProgressIndeterminate {
		t.Fatalf("current = %v, want indeterminate without total duration", r.Current())
	}
}
