package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"pitch-shifter/internal/domain"
)

// ErrToolNotFound is returned when an executable cannot be resolved
// through any of the lookup sources.
var ErrToolNotFound = errors.New("tool not found")

const versionQueryTimeout = 5 * time.Second

// Locator resolves external executables in a fixed order: a binary
// bundled alongside the application, a settings override, then PATH.
// Resolutions are cached for the process lifetime.
type Locator struct {
	mu        sync.Mutex
	cache     map[domain.ToolName]domain.ToolSpec
	overrides func(domain.ToolName) string
	bundleDir string

	lookPath    func(string) (string, error)
	stat        func(string) (os.FileInfo, error)
	readVersion func(path string, arg string) (string, error)
}

// NewLocator builds a locator that consults the given settings override
// source on each resolution. The bundle directory is derived from the
// running executable's location.
func NewLocator(overrides func(domain.ToolName) string) *Locator {
	bundleDir := ""
	if exePath, err := os.Executable(); err == nil {
		bundleDir = filepath.Join(filepath.Dir(exePath), "bin")
	}

	return &Locator{
		cache:       make(map[domain.ToolName]domain.ToolSpec),
		overrides:   overrides,
		bundleDir:   bundleDir,
		lookPath:    exec.LookPath,
		stat:        os.Stat,
		readVersion: queryVersion,
	}
}

// Resolve returns the cached or freshly resolved spec for one tool.
func (l *Locator) Resolve(name domain.ToolName) (domain.ToolSpec, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if spec, ok := l.cache[name]; ok {
		return spec, nil
	}

	path, err := l.locate(name)
	if err != nil {
		return domain.ToolSpec{}, err
	}

	spec := domain.ToolSpec{Name: name, Path: path}
	if version, err := l.readVersion(path, versionFlag(name)); err == nil {
		spec.Version = version
	}

	l.cache[name] = spec
	return spec, nil
}

// Available reports whether a tool resolves without error.
func (l *Locator) Available(name domain.ToolName) bool {
	_, err := l.Resolve(name)
	return err == nil
}

// Invalidate drops all cached resolutions. Call after settings changes
// or tool installation.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[domain.ToolName]domain.ToolSpec)
}

// locate walks the resolution order and returns the first usable path.
func (l *Locator) locate(name domain.ToolName) (string, error) {
	if l.bundleDir != "" {
		bundled := filepath.Join(l.bundleDir, executableName(name))
		if info, err := l.stat(bundled); err == nil && !info.IsDir() {
			return bundled, nil
		}
	}

	if l.overrides != nil {
		if override := strings.TrimSpace(l.overrides(name)); override != "" {
			info, err := l.stat(override)
			if err != nil || info.IsDir() {
				return "", fmt.Errorf("configured path for %s is not usable (%s): %w", name, override, ErrToolNotFound)
			}
			return override, nil
		}
	}

	path, err := l.lookPath(string(name))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return path, nil
}

// executableName appends the platform executable suffix.
func executableName(name domain.ToolName) string {
	if goruntime.GOOS == "windows" {
		return string(name) + ".exe"
	}
	return string(name)
}

// versionFlag returns the version-query argument for each tool.
func versionFlag(name domain.ToolName) string {
	if name == domain.ToolDownloader {
		return "--version"
	}
	return "-version"
}

// queryVersion runs the tool with its version flag and keeps the first
// output line. Failure here is non-fatal to resolution.
func queryVersion(path string, arg string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionQueryTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, arg).Output()
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return "", fmt.Errorf("empty version output")
	}
	return line, nil
}

// NewLocatorForTests creates a locator with injectable dependencies.
func NewLocatorForTests(
	bundleDir string,
	overrides func(domain.ToolName) string,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readVersion func(path string, arg string) (string, error),
) *Locator {
	return &Locator{
		cache:       make(map[domain.ToolName]domain.ToolSpec),
		overrides:   overrides,
		bundleDir:   bundleDir,
		lookPath:    lookPath,
		stat:        stat,
		readVersion: readVersion,
	}
}
