package convert

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"pitch-shifter/internal/domain"
)

// ValidateDownloadURL checks a download source against the host
// allow-list before any process is spawned.
func ValidateDownloadURL(raw string, allowedHosts []string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("host %q is not an allowed media source", host)
}

// buildDownloadArgs builds the downloader invocation. The output
// template substitutes the remote title with restricted filenames, so
// the result always lands inside outputDir.
func buildDownloadArgs(rawURL, outputDir string) []string {
	return []string{
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"-x",
		"--audio-format", "mp3",
		"-o", filepath.Join(outputDir, "%(title)s.%(ext)s"),
		rawURL,
	}
}

// destinationCapture tracks destination paths announced in downloader
// output. The audio-extraction destination wins over the raw download
// destination when both appear.
type destinationCapture struct {
	mu        sync.Mutex
	download  string
	extracted string
}

// Observe consumes one downloader output line.
func (c *destinationCapture) Observe(line string) {
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, "[ExtractAudio] Destination: "); ok {
		c.mu.Lock()
		c.extracted = strings.TrimSpace(rest)
		c.mu.Unlock()
		return
	}
	if rest, ok := strings.CutPrefix(line, "[download] Destination: "); ok {
		c.mu.Lock()
		c.download = strings.TrimSpace(rest)
		c.mu.Unlock()
		return
	}
	if strings.HasPrefix(line, "[download] ") && strings.HasSuffix(line, " has already been downloaded") {
		path := strings.TrimSuffix(strings.TrimPrefix(line, "[download] "), " has already been downloaded")
		c.mu.Lock()
		c.download = strings.TrimSpace(path)
		c.mu.Unlock()
	}
}

// Path returns the best known destination, if any.
func (c *destinationCapture) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extracted != "" {
		return c.extracted
	}
	return c.download
}

// classifyDownloaderFailure inspects the stderr tail for known
// downloader failure signatures.
func classifyDownloaderFailure(stderrTail string) domain.ErrorKind {
	lower := strings.ToLower(stderrTail)
	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "is not a valid url"):
		return domain.ErrKindUnsupportedFormat
	default:
		return domain.ErrKindProcessFailure
	}
}
