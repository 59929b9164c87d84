package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"pitch-shifter/internal/domain"
	"pitch-shifter/internal/tools"
)

// ErrNotFound is returned when the probed path does not exist.
var ErrNotFound = errors.New("file not found")

// commandRunner abstracts prober execution for testability.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner captures combined stdout of one command via os/exec.
type execRunner struct{}

// Output runs the command and returns its stdout.
func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Prober extracts media metadata through the external prober tool.
type Prober struct {
	resolve func(domain.ToolName) (domain.ToolSpec, error)
	runner  commandRunner
	stat    func(string) (os.FileInfo, error)
}

// New builds a prober resolving the tool path through the locator.
func New(locator *tools.Locator) *Prober {
	return &Prober{
		resolve: locator.Resolve,
		runner:  execRunner{},
		stat:    os.Stat,
	}
}

// AudioInfo describes a local audio file. Duration is best-effort:
// probing failure leaves it unset rather than failing the call.
func (p *Prober) AudioInfo(ctx context.Context, path string) (domain.AudioFileInfo, error) {
	info, err := p.stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.AudioFileInfo{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return domain.AudioFileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.AudioFileInfo{}, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}

	file := domain.AudioFileInfo{
		Name:      filepath.Base(path),
		Path:      path,
		SizeBytes: info.Size(),
		Format:    strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
	}

	if duration, err := p.Duration(ctx, path); err == nil {
		file.DurationSeconds = &duration
	}

	return file, nil
}

// Duration returns the media duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	value, err := p.query(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration: %v", duration)
	}
	return duration, nil
}

// SampleRate returns the sample rate of the first audio stream in Hz.
func (p *Prober) SampleRate(ctx context.Context, path string) (int, error) {
	value, err := p.query(ctx,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate",
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	rate, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse sample rate %q: %w", value, err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("non-positive sample rate: %d", rate)
	}
	return rate, nil
}

// query resolves the prober and returns the trimmed command output.
func (p *Prober) query(ctx context.Context, args ...string) (string, error) {
	spec, err := p.resolve(domain.ToolProber)
	if err != nil {
		return "", err
	}

	out, err := p.runner.Output(ctx, spec.Path, args...)
	if err != nil {
		return "", fmt.Errorf("probe failed: %w", err)
	}

	value := strings.TrimSpace(out)
	if value == "" || value == "N/A" {
		return "", fmt.Errorf("probe returned no value")
	}
	return value, nil
}

// NewForTests creates a prober with injectable dependencies.
func NewForTests(
	resolve func(domain.ToolName) (domain.ToolSpec, error),
	runner commandRunner,
	stat func(string) (os.FileInfo, error),
) *Prober {
	return &Prober{resolve: resolve, runner: runner, stat: stat}
}
