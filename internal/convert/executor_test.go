package convert

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pitch-shifter/internal/domain"
	"pitch-shifter/internal/process"
)

// fakeRunner counts spawns and delegates to injected behavior.
type fakeRunner struct {
	spawns int
	run    func(ctx context.Context, spec process.Spec) (process.Result, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, spec process.Spec) (process.Result, error) {
	f.spawns++
	if f.run == nil {
		return process.Result{}, nil
	}
	return f.run(ctx, spec)
}

// fakeProber returns fixed metadata.
type fakeProber struct {
	duration   float64
	sampleRate int
	err        error
}

func (f *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	return f.duration, f.err
}

func (f *fakeProber) SampleRate(ctx context.Context, path string) (int, error) {
	return f.sampleRate, f.err
}

// resolveAll resolves every tool to a fixed fake path.
func resolveAll(name domain.ToolName) (domain.ToolSpec, error) {
	return domain.ToolSpec{Name: name, Path: "/opt/bin/" + string(name)}, nil
}

// newTestExecutor wires an executor over real filesystem calls.
func newTestExecutor(runner process.Runner, prober metadataProber) *Executor {
	return NewExecutorForTests(resolveAll, runner, prober, os.Stat, os.Remove, copyFileContents)
}

// pitchRequest builds a pitch-shift request for tests.
func pitchRequest(input, output string, semitones int, format domain.OutputFormat) domain.JobRequest {
	return domain.JobRequest{
		ID:           "job-1",
		Kind:         domain.JobKindPitchShift,
		Input:        input,
		Semitones:    semitones,
		OutputFormat: format,
		OutputPath:   output,
	}
}

// TestRateMultiplier verifies 2^(semitones/12) across the allowed range.
func TestRateMultiplier(t *testing.T) {
	cases := []struct {
		semitones int
		want      float64
	}{
		{-12, 0.5},
		{-1, math.Pow(2, -1.0/12)},
		{0, 1.0},
		{2, math.Pow(2, 2.0/12)},
		{12, 2.0},
	}

	for _, tc := range cases {
		if got := RateMultiplier(tc.semitones); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("RateMultiplier(%d) = %v, want %v", tc.semitones, got, tc.want)
		}
	}

	for s := domain.MinSemitones; s <= domain.MaxSemitones; s++ {
		if got, want := RateMultiplier(s), math.Pow(2, float64(s)/12); math.Abs(got-want) > 1e-12 {
			t.Fatalf("RateMultiplier(%d) = %v, want %v", s, got, want)
		}
	}
}

// TestBuildPitchShiftArgsRestoresSampleRate checks the filter expression.
func TestBuildPitchShiftArgsRestoresSampleRate(t *testing.T) {
	args := buildPitchShiftArgs("in.wav", "out.mp3", 48000, 12, domain.FormatMP3)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "asetrate=96000,aresample=48000") {
		t.Fatalf("filter missing from args: %v", args)
	}
	if !strings.Contains(joined, "-c:a libmp3lame") {
		t.Fatalf("mp3 codec missing from args: %v", args)
	}
	if args[len(args)-1] != "out.mp3" {
		t.Fatalf("output path must be last arg, got %v", args)
	}
}

// TestExecutePitchShiftSuccess is the happy-path scenario against a stub
// transcoder that writes a small output file.
func TestExecutePitchShiftSuccess(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	output := filepath.Join(root, "a_shifted.mp3")
	mustWriteFile(t, input, "audio-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			if spec.OnLine != nil {
				spec.OnLine("out_time_us=60000000")
			}
			mustWriteFile(t, spec.Args[len(spec.Args)-1], "0123456789")
			return process.Result{ExitCode: 0}, nil
		},
	}

	var progressSeen []float64
	executor := newTestExecutor(runner, &fakeProber{duration: 120, sampleRate: 44100})
	result, jobErr := executor.Execute(context.Background(), pitchRequest(input, output, 2, domain.FormatMP3), func(p float64) {
		progressSeen = append(progressSeen, p)
	})
	if jobErr != nil {
		t.Fatalf("Execute() error = %v", jobErr)
	}
	if result != output {
		t.Fatalf("result = %q, want %q", result, output)
	}
	if runner.spawns != 1 {
		t.Fatalf("spawns = %d, want 1", runner.spawns)
	}
	if len(progressSeen) == 0 || math.Abs(progressSeen[0]-0.5) > 1e-9 {
		t.Fatalf("progress = %v, want first update 0.5", progressSeen)
	}
}

// TestExecutePitchShiftMissingArtifactFails checks the integrity guard.
func TestExecutePitchShiftMissingArtifactFails(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "audio-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			return process.Result{ExitCode: 0}, nil
		},
	}

	executor := newTestExecutor(runner, &fakeProber{sampleRate: 44100})
	_, jobErr := executor.Execute(context.Background(), pitchRequest(input, filepath.Join(root, "missing.mp3"), 2, domain.FormatMP3), nil)
	if jobErr == nil || jobErr.Kind != domain.ErrKindOutputIntegrity {
		t.Fatalf("Execute() error = %v, want output integrity failure", jobErr)
	}
}

// TestExecutePitchShiftEmptyArtifactFails checks zero-byte outputs are rejected.
func TestExecutePitchShiftEmptyArtifactFails(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	output := filepath.Join(root, "a.mp3")
	mustWriteFile(t, input, "audio-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			mustWriteFile(t, output, "")
			return process.Result{ExitCode: 0}, nil
		},
	}

	executor := newTestExecutor(runner, &fakeProber{sampleRate: 44100})
	_, jobErr := executor.Execute(context.Background(), pitchRequest(input, output, 3, domain.FormatMP3), nil)
	if jobErr == nil || jobErr.Kind != domain.ErrKindOutputIntegrity {
		t.Fatalf("Execute() error = %v, want output integrity failure", jobErr)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty artifact should be removed, stat err = %v", err)
	}
}

// TestExecuteZeroShiftSameFormatCopies checks the copy short-circuit
// spawns no transcoder process.
func TestExecuteZeroShiftSameFormatCopies(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "track.mp3")
	output := filepath.Join(root, "copy.mp3")
	mustWriteFile(t, input, "mp3-bytes")

	runner := &fakeRunner{}
	executor := newTestExecutor(runner, &fakeProber{sampleRate: 44100})
	result, jobErr := executor.Execute(context.Background(), pitchRequest(input, output, 0, domain.FormatMP3), nil)
	if jobErr != nil {
		t.Fatalf("Execute() error = %v", jobErr)
	}
	if result != output {
		t.Fatalf("result = %q", result)
	}
	if runner.spawns != 0 {
		t.Fatalf("spawns = %d, want 0 for copy short-circuit", runner.spawns)
	}

	data, err := os.ReadFile(output)
	if err != nil || string(data) != "mp3-bytes" {
		t.Fatalf("copied content = %q, err = %v", data, err)
	}
}

// TestExecuteZeroShiftDifferentFormatTranscodes checks format conversion
// still runs the full pipeline at zero shift.
func TestExecuteZeroShiftDifferentFormatTranscodes(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "track.wav")
	output := filepath.Join(root, "track.flac")
	mustWriteFile(t, input, "wav-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			mustWriteFile(t, output, "flac-bytes")
			return process.Result{ExitCode: 0}, nil
		},
	}

	executor := newTestExecutor(runner, &fakeProber{sampleRate: 48000})
	if _, jobErr := executor.Execute(context.Background(), pitchRequest(input, output, 0, domain.FormatFLAC), nil); jobErr != nil {
		t.Fatalf("Execute() error = %v", jobErr)
	}
	if runner.spawns != 1 {
		t.Fatalf("spawns = %d, want 1", runner.spawns)
	}
}

// TestExecuteClassifiesCorruptInput checks stderr-based classification
// and partial output cleanup.
func TestExecuteClassifiesCorruptInput(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	output := filepath.Join(root, "a.mp3")
	mustWriteFile(t, input, "audio-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			mustWriteFile(t, output, "partial")
			return process.Result{
				ExitCode:   1,
				StderrTail: "a.wav: Invalid data found when processing input",
			}, errors.New("exit status 1")
		},
	}

	executor := newTestExecutor(runner, &fakeProber{sampleRate: 44100})
	_, jobErr := executor.Execute(context.Background(), pitchRequest(input, output, 2, domain.FormatMP3), nil)
	if jobErr == nil || jobErr.Kind != domain.ErrKindCorruptInput {
		t.Fatalf("Execute() error = %v, want corrupt input", jobErr)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output should be removed, stat err = %v", err)
	}
}

// TestExecuteMapsTimeoutAndCancel checks runner error mapping.
func TestExecuteMapsTimeoutAndCancel(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "audio-bytes")

	cases := []struct {
		name   string
		runErr error
		want   domain.ErrorKind
	}{
		{"timeout", process.ErrTimeout, domain.ErrKindTimeout},
		{"cancel", context.Canceled, domain.ErrKindCancelled},
	}

	for _, tc := range cases {
		runner := &fakeRunner{
			run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
				return process.Result{ExitCode: -1}, tc.runErr
			},
		}
		executor := newTestExecutor(runner, &fakeProber{sampleRate: 44100})
		_, jobErr := executor.Execute(context.Background(), pitchRequest(input, filepath.Join(root, tc.name+".mp3"), 1, domain.FormatMP3), nil)
		if jobErr == nil || jobErr.Kind != tc.want {
			t.Fatalf("%s: error = %v, want kind %s", tc.name, jobErr, tc.want)
		}
	}
}

// TestExecuteToolNotFound checks resolution failure is terminal for the job.
func TestExecuteToolNotFound(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "a.wav")
	mustWriteFile(t, input, "audio-bytes")

	executor := NewExecutorForTests(
		func(domain.ToolName) (domain.ToolSpec, error) {
			return domain.ToolSpec{}, errors.New("not installed")
		},
		&fakeRunner{},
		&fakeProber{sampleRate: 44100},
		os.Stat,
		os.Remove,
		copyFileContents,
	)

	_, jobErr := executor.Execute(context.Background(), pitchRequest(input, filepath.Join(root, "a.mp3"), 2, domain.FormatMP3), nil)
	if jobErr == nil || jobErr.Kind != domain.ErrKindToolNotFound {
		t.Fatalf("Execute() error = %v, want tool not found", jobErr)
	}
}

// TestExecuteDownloadSuccess checks destination capture and verification.
func TestExecuteDownloadSuccess(t *testing.T) {
	outputDir := t.TempDir()
	destination := filepath.Join(outputDir, "Some_Track.mp3")

	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			if spec.OnLine != nil {
				spec.OnLine("[download] Destination: " + filepath.Join(outputDir, "Some_Track.webm"))
				spec.OnLine("[download]  55.0% of 3.00MiB at 1.00MiB/s ETA 00:01")
				spec.OnLine("[ExtractAudio] Destination: " + destination)
			}
			mustWriteFile(t, destination, "mp3-bytes")
			return process.Result{ExitCode: 0}, nil
		},
	}

	executor := newTestExecutor(runner, &fakeProber{})
	result, jobErr := executor.Execute(context.Background(), domain.JobRequest{
		ID:        "dl-1",
		Kind:      domain.JobKindDownload,
		Input:     "https://www.youtube.com/watch?v=abc123",
		OutputDir: outputDir,
	}, nil)
	if jobErr != nil {
		t.Fatalf("Execute() error = %v", jobErr)
	}
	if result != destination {
		t.Fatalf("result = %q, want %q", result, destination)
	}
}

// TestExecuteDownloadWithoutDestinationFails checks integrity on silent success.
func TestExecuteDownloadWithoutDestinationFails(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec process.Spec) (process.Result, error) {
			return process.Result{ExitCode: 0}, nil
		},
	}

	executor := newTestExecutor(runner, &fakeProber{})
	_, jobErr := executor.Execute(context.Background(), domain.JobRequest{
		Kind:      domain.JobKindDownload,
		Input:     "https://youtu.be/abc123",
		OutputDir: t.TempDir(),
	}, nil)
	if jobErr == nil || jobErr.Kind != domain.ErrKindOutputIntegrity {
		t.Fatalf("Execute() error = %v, want output integrity failure", jobErr)
	}
}

// TestValidateDownloadURL checks the allow-list gate.
func TestValidateDownloadURL(t *testing.T) {
	allowed := []string{"youtube.com", "youtu.be"}

	valid := []string{
		"https://www.youtube.com/watch?v=abc",
		"https://music.youtube.com/watch?v=abc",
		"https://youtu.be/abc",
	}
	for _, raw := range valid {
		if err := ValidateDownloadURL(raw, allowed); err != nil {
			t.Fatalf("ValidateDownloadURL(%q) = %v, want nil", raw, err)
		}
	}

	invalid := []string{
		"https://example.com/watch?v=abc",
		"https://notyoutube.com/abc",
		"ftp://youtube.com/abc",
		"not a url at all ://",
		"https:///missing-host",
	}
	for _, raw := range invalid {
		if err := ValidateDownloadURL(raw, allowed); err == nil {
			t.Fatalf("ValidateDownloadURL(%q) = nil, want error", raw)
		}
	}
}

// TestDestinationCapturePrefersExtractedAudio checks destination priority.
func TestDestinationCapturePrefersExtractedAudio(t *testing.T) {
	capture := &destinationCapture{}
	capture.Observe("[download] Destination: /dl/raw.webm")
	if capture.Path() != "/dl/raw.webm" {
		t.Fatalf("path = %q", capture.Path())
	}

	capture.Observe("[ExtractAudio] Destination: /dl/raw.mp3")
	if capture.Path() != "/dl/raw.mp3" {
		t.Fatalf("path = %q, want extracted destination", capture.Path())
	}

	capture.Observe("[download] /dl/other.mp3 has already been downloaded")
	if capture.Path() != "/dl/raw.mp3" {
		t.Fatalf("path = %q, extracted destination should still win", capture.Path())
	}
}

// mustWriteFile writes a file or fails the test.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
