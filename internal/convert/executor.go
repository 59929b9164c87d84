package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pitch-shifter/internal/domain"
	"pitch-shifter/internal/process"
	"pitch-shifter/internal/progress"
	"pitch-shifter/internal/tools"
)

const defaultJobTimeout = 2 * time.Hour

// metadataProber supplies media metadata for argument construction and
// progress normalization.
type metadataProber interface {
	Duration(ctx context.Context, path string) (float64, error)
	SampleRate(ctx context.Context, path string) (int, error)
}

// Executor drives one job request to completion: it resolves the tool,
// builds arguments, runs the process, and verifies the output artifact.
type Executor struct {
	resolve func(domain.ToolName) (domain.ToolSpec, error)
	runner  process.Runner
	prober  metadataProber
	timeout time.Duration

	stat     func(string) (os.FileInfo, error)
	remove   func(string) error
	mkdirAll func(string, os.FileMode) error
	copyFile func(src, dst string) error
}

// NewExecutor constructs the production executor.
func NewExecutor(locator *tools.Locator, runner process.Runner, prober metadataProber) *Executor {
	return &Executor{
		resolve:  locator.Resolve,
		runner:   runner,
		prober:   prober,
		timeout:  defaultJobTimeout,
		stat:     os.Stat,
		remove:   os.Remove,
		mkdirAll: os.MkdirAll,
		copyFile: copyFileContents,
	}
}

// Execute runs one job. It returns the produced artifact path, or a
// classified error describing the terminal failure.
func (e *Executor) Execute(ctx context.Context, req domain.JobRequest, onProgress func(float64)) (string, *domain.JobError) {
	switch req.Kind {
	case domain.JobKindPitchShift:
		return e.executePitchShift(ctx, req, onProgress)
	case domain.JobKindDownload:
		return e.executeDownload(ctx, req, onProgress)
	default:
		return "", domain.NewJobError(domain.ErrKindInvalidInput, fmt.Sprintf("unknown job kind: %s", req.Kind))
	}
}

// executePitchShift converts one local audio file, shifting pitch by the
// requested number of semitones.
func (e *Executor) executePitchShift(ctx context.Context, req domain.JobRequest, onProgress func(float64)) (string, *domain.JobError) {
	if _, err := e.stat(req.Input); err != nil {
		return "", &domain.JobError{
			Kind:    domain.ErrKindInvalidInput,
			Message: fmt.Sprintf("input file does not exist: %s", req.Input),
			Err:     err,
		}
	}

	if err := e.mkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", &domain.JobError{
			Kind:    domain.ErrKindInvalidInput,
			Message: fmt.Sprintf("cannot create output directory for %s", req.OutputPath),
			Err:     err,
		}
	}

	// A zero shift into the same container is a plain copy; a zero
	// shift into a different container still needs the transcoder.
	if req.Semitones == 0 && formatsMatch(req.Input, req.OutputFormat) {
		if err := e.copyFile(req.Input, req.OutputPath); err != nil {
			return "", &domain.JobError{
				Kind:    domain.ErrKindProcessFailure,
				Message: "copy to output path failed",
				Err:     err,
			}
		}
		return req.OutputPath, e.verifyArtifact(req.OutputPath)
	}

	tool, err := e.resolve(domain.ToolTranscoder)
	if err != nil {
		return "", &domain.JobError{
			Kind:    domain.ErrKindToolNotFound,
			Message: "transcoder executable is not available",
			Err:     err,
		}
	}

	sampleRate, err := e.prober.SampleRate(ctx, req.Input)
	if err != nil {
		sampleRate = fallbackSampleRate
	}
	duration, err := e.prober.Duration(ctx, req.Input)
	if err != nil {
		duration = 0
	}

	reporter := progress.NewReporter(duration, onProgress)
	result, runErr := e.runner.Run(ctx, process.Spec{
		Path:    tool.Path,
		Args:    buildPitchShiftArgs(req.Input, req.OutputPath, sampleRate, req.Semitones, req.OutputFormat),
		Timeout: e.timeout,
		OnLine:  reporter.Observe,
	})
	if runErr != nil {
		e.removeIfExists(req.OutputPath)
		return "", e.mapRunError(runErr, result, classifyTranscoderFailure)
	}

	return req.OutputPath, e.verifyArtifact(req.OutputPath)
}

// executeDownload fetches audio from an allow-listed remote URL through
// the downloader tool.
func (e *Executor) executeDownload(ctx context.Context, req domain.JobRequest, onProgress func(float64)) (string, *domain.JobError) {
	tool, err := e.resolve(domain.ToolDownloader)
	if err != nil {
		return "", &domain.JobError{
			Kind:    domain.ErrKindToolNotFound,
			Message: "downloader executable is not available",
			Err:     err,
		}
	}

	if err := e.mkdirAll(req.OutputDir, 0o755); err != nil {
		return "", &domain.JobError{
			Kind:    domain.ErrKindInvalidInput,
			Message: fmt.Sprintf("cannot create download directory: %s", req.OutputDir),
			Err:     err,
		}
	}

	reporter := progress.NewReporter(0, onProgress)
	capture := &destinationCapture{}
	result, runErr := e.runner.Run(ctx, process.Spec{
		Path:    tool.Path,
		Args:    buildDownloadArgs(req.Input, req.OutputDir),
		Timeout: e.timeout,
		OnLine: func(line string) {
			reporter.Observe(line)
			capture.Observe(line)
		},
	})
	if runErr != nil {
		if partial := capture.Path(); partial != "" {
			e.removeIfExists(partial)
			e.removeIfExists(partial + ".part")
		}
		return "", e.mapRunError(runErr, result, classifyDownloaderFailure)
	}

	destination := capture.Path()
	if destination == "" {
		return "", &domain.JobError{
			Kind:    domain.ErrKindOutputIntegrity,
			Message: "downloader reported success but no destination file",
			Stderr:  result.StderrTail,
		}
	}
	return destination, e.verifyArtifact(destination)
}

// verifyArtifact enforces that a declared-successful job actually
// produced a non-empty file.
func (e *Executor) verifyArtifact(path string) *domain.JobError {
	info, err := e.stat(path)
	if err != nil {
		return &domain.JobError{
			Kind:    domain.ErrKindOutputIntegrity,
			Message: fmt.Sprintf("output file is missing: %s", path),
			Err:     err,
		}
	}
	if info.Size() == 0 {
		e.removeIfExists(path)
		return domain.NewJobError(domain.ErrKindOutputIntegrity, fmt.Sprintf("output file is empty: %s", path))
	}
	return nil
}

// mapRunError converts a process failure into the job error taxonomy.
func (e *Executor) mapRunError(runErr error, result process.Result, classify func(string) domain.ErrorKind) *domain.JobError {
	if errors.Is(runErr, context.Canceled) {
		return domain.NewJobError(domain.ErrKindCancelled, "job cancelled")
	}
	if errors.Is(runErr, process.ErrTimeout) {
		return &domain.JobError{
			Kind:    domain.ErrKindTimeout,
			Message: fmt.Sprintf("process exceeded timeout of %s", e.timeout),
			Stderr:  result.StderrTail,
			Err:     runErr,
		}
	}

	var startErr *process.StartError
	if errors.As(runErr, &startErr) {
		return &domain.JobError{
			Kind:    domain.ErrKindSpawn,
			Message: startErr.Error(),
			Err:     runErr,
		}
	}

	return &domain.JobError{
		Kind:    classify(result.StderrTail),
		Message: fmt.Sprintf("process exited with status %d", result.ExitCode),
		Stderr:  result.StderrTail,
		Err:     runErr,
	}
}

// removeIfExists deletes a partial artifact, ignoring absence.
func (e *Executor) removeIfExists(path string) {
	_ = e.remove(path)
}

// copyFileContents copies src into dst, creating parent directories.
func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return copyErr
	}
	return closeErr
}

// NewExecutorForTests constructs an executor with injectable dependencies.
func NewExecutorForTests(
	resolve func(domain.ToolName) (domain.ToolSpec, error),
	runner process.Runner,
	prober metadataProber,
	stat func(string) (os.FileInfo, error),
	remove func(string) error,
	copyFile func(src, dst string) error,
) *Executor {
	return &Executor{
		resolve:  resolve,
		runner:   runner,
		prober:   prober,
		timeout:  defaultJobTimeout,
		stat:     stat,
		remove:   remove,
		mkdirAll: os.MkdirAll,
		copyFile: copyFile,
	}
}
