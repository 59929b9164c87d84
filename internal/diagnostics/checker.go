package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"pitch-shifter/internal/domain"
)

// toolResolver locates one external tool, honoring overrides and the
// bundled binary directory.
type toolResolver interface {
	Resolve(domain.ToolName) (domain.ToolSpec, error)
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	resolver toolResolver

	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(resolver toolResolver) *Checker {
	return &Checker{
		resolver:   resolver,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(domain.ToolTranscoder, "Audio transcoder"),
		c.checkTool(domain.ToolProber, "Media prober"),
		c.checkTool(domain.ToolDownloader, "Media downloader"),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir),
		c.checkWritableDir("download_dir", "Download directory", settings.DownloadDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required external executable resolves.
func (c *Checker) checkTool(name domain.ToolName, label string) domain.DiagnosticItem {
	spec, err := c.resolver.Resolve(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + string(name),
			Name:    label,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", name),
			Hint:    fmt.Sprintf("Install %s, or set its path in settings.", name),
		}
	}

	message := fmt.Sprintf("Found at %s", spec.Path)
	if spec.Version != "" {
		message = fmt.Sprintf("Found at %s (%s)", spec.Path, spec.Version)
	}
	return domain.DiagnosticItem{
		ID:      "tool_" + string(name),
		Name:    label,
		Status:  domain.DiagnosticStatusPass,
		Message: message,
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, label, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: label,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is not configured.", label)
		item.Hint = "Choose a directory in settings."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	resolver toolResolver,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		resolver:   resolver,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
